package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/journeyhq/journey/logger"
	"github.com/journeyhq/journey/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port            int
	executorService *service.ExecutionService
}

func NewServer(httpPort int, executorService *service.ExecutionService) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		executorService: executorService,
		Port:            httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/flow", s.HandleDefineFlow).Methods(http.MethodPost)
	router.HandleFunc("/flow", s.HandleListFlows).Methods(http.MethodGet)
	router.HandleFunc("/flow/{name}", s.HandleGetFlow).Methods(http.MethodGet)
	router.HandleFunc("/flow/{name}", s.HandleUndefineFlow).Methods(http.MethodDelete)
	router.HandleFunc("/flow/{name}/run", s.HandleRunFlow).Methods(http.MethodPost)

	router.HandleFunc("/event", s.HandlePublishEvent).Methods(http.MethodPost)
	router.HandleFunc("/property", s.HandleSetProperty).Methods(http.MethodPost)

	router.HandleFunc("/contact/{id}", s.HandleGetContact).Methods(http.MethodGet)
	router.HandleFunc("/contact/{id}/events", s.HandleEventHistory).Methods(http.MethodGet)
	router.HandleFunc("/contact/{id}/instances", s.HandleListInstances).Methods(http.MethodGet)

	router.HandleFunc("/instance/{id}", s.HandleGetInstance).Methods(http.MethodGet)
	router.HandleFunc("/completion/{causeId}", s.HandleAwaitCompletion).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, message map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
	res, _ := json.Marshal(message)
	w.Write(res)
}

func respondOKWithoutBody(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

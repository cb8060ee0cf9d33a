package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/journeyhq/journey/logger"
	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	"go.uber.org/zap"
)

func (s *Server) HandleDefineFlow(w http.ResponseWriter, r *http.Request) {
	var def model.FlowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed flow definition")
		return
	}
	defer r.Body.Close()
	causeId, err := s.executorService.DefineFlow(def)
	if err != nil {
		logger.Error("error defining flow", zap.String("name", def.Name), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if causeId != "" {
		respondOK(w, map[string]any{"name": def.Name, "causeId": causeId})
		return
	}
	respondOK(w, map[string]any{"name": def.Name})
}

func (s *Server) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	def, err := s.executorService.GetFlow(name)
	if err != nil {
		respondWithError(w, statusFor(err), "flow not found")
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}

func (s *Server) HandleListFlows(w http.ResponseWriter, r *http.Request) {
	defs, err := s.executorService.ListFlows()
	if err != nil {
		logger.Error("error listing flows", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error listing flows")
		return
	}
	respondWithJSON(w, http.StatusOK, defs)
}

func (s *Server) HandleUndefineFlow(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.executorService.UndefineFlow(name); err != nil {
		logger.Error("error deleting flow", zap.String("name", name), zap.Error(err))
		respondWithError(w, statusFor(err), "error deleting flow")
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleRunFlow(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	causeId, err := s.executorService.RunFlow(name)
	if err != nil {
		logger.Error("error running flow", zap.String("name", name), zap.Error(err))
		respondWithError(w, statusFor(err), "error running flow")
		return
	}
	respondOK(w, map[string]any{"causeId": causeId})
}

func statusFor(err error) int {
	var notFound persistence.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

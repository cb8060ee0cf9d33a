package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/journeyhq/journey/logger"
	"go.uber.org/zap"
)

func (s *Server) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, err := s.executorService.InstanceStatus(id)
	if err != nil {
		respondWithError(w, statusFor(err), "instance not found")
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

func (s *Server) HandleListInstances(w http.ResponseWriter, r *http.Request) {
	contactId := mux.Vars(r)["id"]
	instances, err := s.executorService.ListInstances(contactId)
	if err != nil {
		logger.Error("error listing instances", zap.String("contactId", contactId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error listing instances")
		return
	}
	respondWithJSON(w, http.StatusOK, instances)
}

func (s *Server) HandleAwaitCompletion(w http.ResponseWriter, r *http.Request) {
	causeId := mux.Vars(r)["causeId"]
	if err := s.executorService.AwaitCompletion(r.Context(), causeId); err != nil {
		respondWithError(w, http.StatusRequestTimeout, "timed out waiting for completion")
		return
	}
	respondOK(w, map[string]any{"causeId": causeId, "resolved": true})
}

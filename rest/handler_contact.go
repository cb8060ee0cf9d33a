package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/journeyhq/journey/logger"
	"github.com/journeyhq/journey/model"
	"go.uber.org/zap"
)

func (s *Server) HandlePublishEvent(w http.ResponseWriter, r *http.Request) {
	var req model.PublishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed event")
		return
	}
	defer r.Body.Close()
	if req.ContactId == "" || req.Type == "" {
		respondWithError(w, http.StatusBadRequest, "contactId and type are required")
		return
	}
	causeId, err := s.executorService.PublishEvent(req)
	if err != nil {
		logger.Error("error publishing event", zap.String("contactId", req.ContactId), zap.String("type", req.Type), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error publishing event")
		return
	}
	if s.awaitRequested(w, r, causeId) {
		return
	}
	respondOK(w, map[string]any{"causeId": causeId})
}

func (s *Server) HandleSetProperty(w http.ResponseWriter, r *http.Request) {
	var req model.SetPropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed property write")
		return
	}
	defer r.Body.Close()
	if req.ContactId == "" || req.Key == "" {
		respondWithError(w, http.StatusBadRequest, "contactId and key are required")
		return
	}
	causeId, err := s.executorService.SetProperty(req)
	if err != nil {
		logger.Error("error setting property", zap.String("contactId", req.ContactId), zap.String("key", req.Key), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if causeId != "" && s.awaitRequested(w, r, causeId) {
		return
	}
	respondOK(w, map[string]any{"causeId": causeId})
}

// awaitRequested blocks the request until the cause resolves when the caller
// passed ?await=true. Reports whether it already wrote a response.
func (s *Server) awaitRequested(w http.ResponseWriter, r *http.Request, causeId string) bool {
	if r.URL.Query().Get("await") != "true" {
		return false
	}
	if err := s.executorService.AwaitCompletion(r.Context(), causeId); err != nil {
		respondWithError(w, http.StatusRequestTimeout, "timed out waiting for completion")
		return true
	}
	respondOK(w, map[string]any{"causeId": causeId, "resolved": true})
	return true
}

func (s *Server) HandleGetContact(w http.ResponseWriter, r *http.Request) {
	contactId := mux.Vars(r)["id"]
	contact, err := s.executorService.GetContact(contactId)
	if err != nil {
		respondWithError(w, statusFor(err), "contact not found")
		return
	}
	respondWithJSON(w, http.StatusOK, contact)
}

func (s *Server) HandleEventHistory(w http.ResponseWriter, r *http.Request) {
	contactId := mux.Vars(r)["id"]
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondWithError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	events, err := s.executorService.EventHistory(contactId, limit)
	if err != nil {
		logger.Error("error reading event history", zap.String("contactId", contactId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error reading event history")
		return
	}
	respondWithJSON(w, http.StatusOK, events)
}

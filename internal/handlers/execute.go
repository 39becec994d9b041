package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/medfuse/broker-api/internal/engine"
	"github.com/medfuse/broker-api/internal/repository"
	"github.com/rs/zerolog"
)

type ExecuteHandler struct {
	docs   repository.QueryRepository
	engine *engine.Engine
	logger zerolog.Logger
}

func NewExecuteHandler(docs repository.QueryRepository, eng *engine.Engine, logger zerolog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		docs:   docs,
		engine: eng,
		logger: logger.With().Str("handler", "execute").Logger(),
	}
}

// Execute starts an asynchronous execution attempt. The response only
// confirms the transition to running; the outcome is observed by polling.
func (h *ExecuteHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	doc, err := h.docs.Get(r.Context(), payload.Query)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(w, "query")
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.engine.Execute(r.Context(), &doc); err != nil {
		h.logger.Error().Err(err).Str("query_id", doc.ID).Msg("failed to start execution")
		http.Error(w, "Failed to start execution: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// Poll reports the current execution status of a query.
func (h *ExecuteHandler) Poll(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), mux.Vars(r)["queryID"])
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(w, "query")
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": doc.Status.Status})
}

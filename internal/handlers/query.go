package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/medfuse/broker-api/internal/adapter"
	"github.com/medfuse/broker-api/internal/models"
	"github.com/medfuse/broker-api/internal/repository"
	"github.com/rs/zerolog"
)

type QueryHandler struct {
	docs   repository.QueryRepository
	blobs  repository.BlobRepository
	logger zerolog.Logger
}

func NewQueryHandler(docs repository.QueryRepository, blobs repository.BlobRepository, logger zerolog.Logger) *QueryHandler {
	return &QueryHandler{
		docs:   docs,
		blobs:  blobs,
		logger: logger.With().Str("handler", "query").Logger(),
	}
}

func (h *QueryHandler) CreateQuery(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Endpoint    models.Endpoint    `json:"endpoint"`
		Credentials models.Credentials `json:"credentials"`
		Input       models.Input       `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if !adapter.Supported(payload.Endpoint.SourceType) {
		http.Error(w, "Unsupported source type: "+payload.Endpoint.SourceType, http.StatusBadRequest)
		return
	}

	doc := models.QueryDocument{
		Endpoint:    payload.Endpoint,
		Credentials: payload.Credentials,
		Input:       payload.Input,
		Status:      models.QueryStatus{Status: models.StatusUnknown},
	}
	if err := h.docs.Create(r.Context(), &doc); err != nil {
		h.logger.Error().Err(err).Msg("failed to create query")
		http.Error(w, "Failed to create query: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *QueryHandler) GetQuery(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), mux.Vars(r)["queryID"])
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(w, "query")
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *QueryHandler) ListQueries(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.List(r.Context())
	if err != nil {
		http.Error(w, "Failed to list queries: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []models.QueryDocument{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queries": docs})
}

// DeleteQuery removes the document and releases every blob it references.
func (h *QueryHandler) DeleteQuery(w http.ResponseWriter, r *http.Request) {
	queryID := mux.Vars(r)["queryID"]
	if _, err := h.docs.Get(r.Context(), queryID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(w, "query")
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.blobs.DeleteByQuery(r.Context(), queryID); err != nil {
		h.logger.Error().Err(err).Str("query_id", queryID).Msg("failed to delete query blobs")
		http.Error(w, "Failed to delete query output: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.docs.Delete(r.Context(), queryID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(w, "query")
			return
		}
		http.Error(w, "Failed to delete query: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetOutput returns the standardized output payload. A query that has not
// produced output yet yields an empty object.
func (h *QueryHandler) GetOutput(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), mux.Vars(r)["queryID"])
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(w, "query")
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if doc.Output.Std.DataID == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	payload, err := h.blobs.Get(r.Context(), *doc.Output.Std.DataID)
	if err != nil {
		http.Error(w, "Failed to load output: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// UpdateOutput merges the request body into the standardized output payload.
// Merging after a delete starts from an empty object; a delete never blocks
// a later update.
func (h *QueryHandler) UpdateOutput(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), mux.Vars(r)["queryID"])
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(w, "query")
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var patch map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	merged := map[string]interface{}{}
	if doc.Output.Std.DataID != nil {
		if existing, err := h.blobs.Get(r.Context(), *doc.Output.Std.DataID); err == nil {
			// A non-object payload is replaced rather than merged.
			json.Unmarshal(existing, &merged)
		}
	}
	for key, value := range patch {
		merged[key] = value
	}
	payload, err := json.Marshal(merged)
	if err != nil {
		http.Error(w, "Failed to encode output: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if doc.Output.Std.DataID != nil {
		if err := h.blobs.Update(r.Context(), *doc.Output.Std.DataID, payload); err != nil {
			http.Error(w, "Failed to store output: "+err.Error(), http.StatusInternalServerError)
			return
		}
		doc.Output.Std.DataSize = int64(len(payload))
	} else {
		blobID, err := h.blobs.Put(r.Context(), doc.ID, payload)
		if err != nil {
			http.Error(w, "Failed to store output: "+err.Error(), http.StatusInternalServerError)
			return
		}
		doc.Output.Std = models.OutputRef{DataSize: int64(len(payload)), DataID: &blobID}
	}
	if err := h.docs.Update(r.Context(), &doc); err != nil {
		http.Error(w, "Failed to persist query: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// DeleteOutput releases the query's blobs and clears both output references.
func (h *QueryHandler) DeleteOutput(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), mux.Vars(r)["queryID"])
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(w, "query")
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.blobs.DeleteByQuery(r.Context(), doc.ID); err != nil {
		http.Error(w, "Failed to delete output: "+err.Error(), http.StatusInternalServerError)
		return
	}
	doc.Output = models.Output{}
	if err := h.docs.Update(r.Context(), &doc); err != nil {
		http.Error(w, "Failed to persist query: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

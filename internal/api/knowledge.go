package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/wachat/internal/storage"
)

const maxUploadBodySize = 10 << 20 // 10MB

type ingestRequest struct {
	Type     string `json:"type"` // "text", "pdf", or "url"
	Title    string `json:"title"`
	Content  string `json:"content"` // raw text, or base64 for pdf
	URL      string `json:"url"`
	Category string `json:"category"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Type == "" {
			req.Type = "text"
		}

		var docID string
		var err error
		switch req.Type {
		case "text":
			if req.Content == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
				return
			}
			docID, err = deps.Ingestor.IngestText(r.Context(), req.Title, req.Content, req.Category)

		case "pdf":
			if req.Content == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
				return
			}
			var decoded []byte
			decoded, err = base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			docID, err = deps.Ingestor.IngestPDF(r.Context(), req.Title, req.Category, bytes.NewReader(decoded), int64(len(decoded)))

		case "url":
			if req.URL == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
				return
			}
			docID, err = deps.Ingestor.IngestURL(r.Context(), req.URL, req.Category)

		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown type %q", req.Type)
			return
		}

		if err != nil {
			// A document may have been stored even when embedding failed;
			// report the degraded state instead of hiding it.
			if docID != "" {
				deps.Logger.Warn().Err(err).Str("doc_id", docID).Msg("document stored without embeddings")
				writeJSON(w, map[string]string{"id": docID, "status": "stored_without_embeddings"})
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "ingestion failed: %v", err)
			return
		}

		if deps.Metrics != nil {
			deps.Metrics.KnowledgeDocs.Inc()
		}
		writeJSON(w, map[string]string{"id": docID, "status": "indexed"})
	}
}

func handleListKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		docs, err := deps.Store.ListKnowledgeDocs(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.KnowledgeDoc{}
		}
		writeJSON(w, docs)
	}
}

func handleGetKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		doc, err := deps.Store.GetKnowledgeDoc(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}
		writeJSON(w, doc)
	}
}

func handleDeleteKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Ingestor.Delete(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		if deps.Metrics != nil {
			deps.Metrics.KnowledgeDocs.Dec()
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/wachat/internal/storage"
)

type turnView struct {
	Speaker   string `json:"speaker"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

// handleConversation returns the persisted transcript for a phone identity,
// oldest first.
func handleConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone := NormalizePhone(chi.URLParam(r, "phone"))
		if phone == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid phone")
			return
		}
		limit := parseIntParam(r, "limit", 50, 500)

		turns, err := deps.Store.LoadHistory(phone, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history: %v", err)
			return
		}

		views := make([]turnView, len(turns))
		for i, t := range turns {
			views[i] = turnView{
				Speaker:   t.Speaker,
				Content:   t.Content,
				CreatedAt: t.CreatedAt.Format(time.RFC3339),
			}
		}
		writeJSON(w, map[string]any{"identity": phone, "turns": views})
	}
}

// handleRelayLog exposes recent relay journal entries for debugging
// misconfigured targets.
func handleRelayLog(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		records, err := deps.Store.RecentRelayRecords(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load relay log: %v", err)
			return
		}
		if records == nil {
			records = []storage.RelayRecord{}
		}
		writeJSON(w, records)
	}
}

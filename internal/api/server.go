// Package api is the HTTP surface of the service: the inbound WhatsApp
// webhook, knowledge-base management, conversation inspection, and the
// health/metrics endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kalambet/wachat/internal/knowledge"
	"github.com/kalambet/wachat/internal/observability"
	"github.com/kalambet/wachat/internal/orchestrator"
	"github.com/kalambet/wachat/internal/relay"
	"github.com/kalambet/wachat/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds everything the HTTP layer needs. Relay and Metrics are
// optional.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Relay        *relay.Relay
	Ingestor     *knowledge.Ingestor
	Store        *storage.Store
	Vectors      knowledge.VectorStore
	Metrics      *observability.Metrics
	Token        string
	Logger       zerolog.Logger
}

// NewHandler builds the router. The webhook and health endpoints are open;
// management endpoints sit behind bearer auth.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Post("/webhook/inbound", handleInbound(deps))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/knowledge", handleIngest(deps))
		r.Get("/knowledge", handleListKnowledge(deps))
		r.Get("/knowledge/{id}", handleGetKnowledge(deps))
		r.Delete("/knowledge/{id}", handleDeleteKnowledge(deps))

		r.Get("/conversations/{phone}", handleConversation(deps))
		r.Get("/relay-log", handleRelayLog(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if deps.Store != nil {
			if err := deps.Store.DB().PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "storage": err.Error()})
				return
			}
		}
		body := map[string]any{"status": "ok"}
		if deps.Vectors != nil {
			count, err := deps.Vectors.Count()
			if err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "vectors": err.Error()})
				return
			}
			body["vectors"] = count
		}
		json.NewEncoder(w).Encode(body)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

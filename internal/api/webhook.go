package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kalambet/wachat/internal/orchestrator"
	"github.com/kalambet/wachat/internal/relay"
)

// inboundPayload accepts the field aliases the upstream transports use.
type inboundPayload struct {
	Phone  string `json:"phone"`
	From   string `json:"from"`
	Sender string `json:"sender"`

	FromName    string `json:"fromName"`
	ContactName string `json:"contactName"`
	Name        string `json:"name"`

	Text    string `json:"text"`
	Message string `json:"message"`

	MessageType string   `json:"messageType"`
	MessageID   string   `json:"messageId"`
	Attachments []string `json:"attachments"`
}

func (p inboundPayload) phone() string {
	return firstNonEmpty(p.Phone, p.From, p.Sender)
}

func (p inboundPayload) fromName() string {
	return firstNonEmpty(p.FromName, p.ContactName, p.Name)
}

func (p inboundPayload) text() string {
	return firstNonEmpty(p.Text, p.Message)
}

// handleInbound acknowledges immediately and processes asynchronously:
// transport latency must never wait on LLM generation. Invalid payloads are
// acknowledged and dropped, not retried by the transport.
func handleInbound(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var payload inboundPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		phone := NormalizePhone(payload.phone())
		text := payload.text()
		if phone == "" || text == "" {
			deps.Logger.Warn().
				Str("phone", payload.phone()).
				Bool("has_text", text != "").
				Msg("discarding inbound message with missing phone or text")
			writeJSON(w, map[string]string{"status": "discarded"})
			return
		}

		deps.Orchestrator.Dispatch(orchestrator.Inbound{
			Phone:    phone,
			FromName: payload.fromName(),
			Text:     text,
		})

		if deps.Relay != nil {
			event := relay.Event{
				Phone:       phone,
				FromName:    payload.fromName(),
				Message:     text,
				MessageType: payload.MessageType,
				MessageID:   payload.MessageID,
				Timestamp:   time.Now(),
				Attachments: payload.Attachments,
			}
			go func() {
				// Detached from the request context: delivery retries outlive
				// the already-acknowledged webhook call. The deadline covers
				// the full retry schedule.
				ctx, cancel := context.WithTimeout(context.Background(), relay.DeliveryBudget)
				defer cancel()
				result := deps.Relay.Deliver(ctx, event)
				if deps.Metrics != nil {
					status := "failed"
					if result.Delivered {
						status = "delivered"
					}
					deps.Metrics.RelayDeliveries.WithLabelValues(status).Inc()
				}
			}()
		}

		writeJSON(w, map[string]string{"status": "accepted"})
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Package relay forwards normalized inbound messages to an external
// automation backend over HTTPS, with bounded retries and a delivery journal.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kalambet/wachat/internal/storage"
)

// Message types accepted on the canonical payload.
const (
	TypeText     = "text"
	TypeMedia    = "media"
	TypeLocation = "location"
	TypeButton   = "button"
	TypeTemplate = "template"
)

// Event is a normalized inbound message ready for relay.
type Event struct {
	Phone       string
	FromName    string
	Message     string
	MessageType string
	MessageID   string
	Timestamp   time.Time
	ReplyToken  string
	Attachments []string
}

// payload is the canonical wire shape. Message is duplicated into text for
// backends that read either field.
type payload struct {
	Phone       string   `json:"phone"`
	FromName    string   `json:"fromName"`
	Message     string   `json:"message"`
	Text        string   `json:"text"`
	MessageType string   `json:"messageType"`
	MessageID   string   `json:"messageId"`
	Integration string   `json:"integration"`
	Timestamp   int64    `json:"timestamp"`
	ReplyToken  string   `json:"replyToken,omitempty"`
	Attachments []string `json:"attachments"`
}

// Result is the structured outcome of one delivery attempt chain. Failures
// are reported here, never as panics or propagated errors.
type Result struct {
	TraceID    string
	Delivered  bool
	Attempts   int
	StatusCode int
	Reason     string
}

// Journal persists delivery outcomes. Implemented by storage.Store.
type Journal interface {
	SaveRelayRecord(rec storage.RelayRecord) error
}

// backoffs between retry attempts; retries apply only to no-response and 5xx.
var backoffs = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// requestTimeout bounds one delivery attempt.
const requestTimeout = 10 * time.Second

// DeliveryBudget is the worst-case duration of a full attempt chain: every
// attempt timing out plus every backoff. Callers running Deliver under a
// deadline must allow at least this much.
var DeliveryBudget = deliveryBudget()

func deliveryBudget() time.Duration {
	budget := time.Duration(len(backoffs)+1) * requestTimeout
	for _, b := range backoffs {
		budget += b
	}
	return budget
}

// Relay delivers events to one configured target.
type Relay struct {
	targetURL string
	secret    string
	apiKey    string

	httpClient *http.Client
	journal    Journal
	sleep      func(ctx context.Context, d time.Duration) error
	logger     zerolog.Logger
}

// New creates a Relay for the given target. Secret and apiKey may be empty;
// their headers are then omitted.
func New(targetURL, secret, apiKey string, journal Journal, logger zerolog.Logger) *Relay {
	return &Relay{
		targetURL:  targetURL,
		secret:     secret,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		journal:    journal,
		sleep:      sleepContext,
		logger:     logger,
	}
}

// sleepContext waits for the duration or until the context is done,
// whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Deliver POSTs the event to the target. Non-HTTPS targets are rejected
// without any network call. Retries cover only transport failures and 5xx
// responses; a 2xx response with an HTML content type counts as a
// misconfigured target, not a success.
func (r *Relay) Deliver(ctx context.Context, event Event) Result {
	traceID := uuid.NewString()
	result := Result{TraceID: traceID}

	if !isHTTPS(r.targetURL) {
		result.Reason = fmt.Sprintf("insecure relay target %q: https required", r.targetURL)
		r.logger.Error().Str("target", r.targetURL).Msg("relay target must be https")
		r.record(event, result, "rejected")
		return result
	}

	body, err := json.Marshal(buildPayload(event))
	if err != nil {
		result.Reason = fmt.Sprintf("encoding payload: %v", err)
		r.record(event, result, "rejected")
		return result
	}

	for attempt := 0; attempt <= len(backoffs); attempt++ {
		result.Attempts = attempt + 1

		status, retryable, err := r.post(ctx, traceID, body)
		result.StatusCode = status
		if err == nil {
			result.Delivered = true
			result.Reason = ""
			r.record(event, result, "delivered")
			return result
		}

		result.Reason = err.Error()
		if !retryable {
			break
		}
		if attempt < len(backoffs) {
			if err := r.sleep(ctx, backoffs[attempt]); err != nil {
				result.Reason = err.Error()
				r.record(event, result, "failed")
				return result
			}
		}
	}

	r.logger.Warn().
		Str("trace_id", traceID).
		Int("attempts", result.Attempts).
		Str("reason", result.Reason).
		Msg("relay delivery failed")
	r.record(event, result, "failed")
	return result
}

// post performs one delivery attempt. The boolean reports whether the
// failure class is retryable.
func (r *Relay) post(ctx context.Context, traceID string, body []byte) (status int, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.targetURL, bytes.NewReader(body))
	if err != nil {
		return 0, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-trace-id", traceID)
	if r.secret != "" {
		req.Header.Set("x-webhook-secret", r.secret)
	}
	if r.apiKey != "" {
		req.Header.Set("X-Api-Key", r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, true, fmt.Errorf("no response: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 500:
		return resp.StatusCode, true, fmt.Errorf("server error %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return resp.StatusCode, false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// A webhook endpoint answers with JSON or nothing; HTML means the URL
	// points at a UI page.
	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "text/html") {
		return resp.StatusCode, false, fmt.Errorf("target returned HTML (status %d): likely a misconfigured URL", resp.StatusCode)
	}

	return resp.StatusCode, false, nil
}

func (r *Relay) record(event Event, result Result, status string) {
	if r.journal == nil {
		return
	}
	rec := storage.RelayRecord{
		TraceID:   result.TraceID,
		Identity:  event.Phone,
		TargetURL: r.targetURL,
		Attempts:  result.Attempts,
		Status:    status,
		LastError: result.Reason,
	}
	if err := r.journal.SaveRelayRecord(rec); err != nil {
		r.logger.Warn().Err(err).Str("trace_id", result.TraceID).Msg("relay journal write failed")
	}
}

func buildPayload(event Event) payload {
	messageType := event.MessageType
	if messageType == "" {
		messageType = TypeText
	}
	attachments := event.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	return payload{
		Phone:       event.Phone,
		FromName:    event.FromName,
		Message:     event.Message,
		Text:        event.Message,
		MessageType: messageType,
		MessageID:   event.MessageID,
		Integration: "whatsapp",
		Timestamp:   event.Timestamp.UnixMilli(),
		ReplyToken:  event.ReplyToken,
		Attachments: attachments,
	}
}

func isHTTPS(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme == "https"
}

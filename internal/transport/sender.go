// Package transport delivers generated replies back to the user's messaging
// channel through the gateway's send endpoint.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPSender posts outbound replies to a WhatsApp gateway.
type HTTPSender struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPSender creates a sender for the given gateway URL. The timeout caps
// a single delivery attempt; the gateway owns any retry semantics.
func NewHTTPSender(url, apiKey string, timeout time.Duration, logger zerolog.Logger) *HTTPSender {
	return &HTTPSender{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Send posts one reply to the gateway.
func (s *HTTPSender) Send(ctx context.Context, phone, text string) error {
	body, err := json.Marshal(map[string]string{
		"phone":   phone,
		"message": text,
	})
	if err != nil {
		return fmt.Errorf("encoding outbound message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-Api-Key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	s.logger.Debug().Str("phone", phone).Msg("reply delivered to gateway")
	return nil
}

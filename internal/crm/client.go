package crm

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
)

const (
	defaultBaseURL = "https://services.leadconnectorhq.com"
	defaultTimeout = 10 * time.Second

	// apiVersion is the LeadConnector API version header value.
	apiVersion = "2021-07-28"
)

// Client is the operations the rest of the service needs from the CRM.
// Implemented by HTTPClient; mocked in tests.
type Client interface {
	FindContactByPhone(ctx context.Context, phone string) (Contact, error)
	CreateContact(ctx context.Context, phone, firstName string, tags []string) (Contact, error)
	AddTags(ctx context.Context, contactID string, tags []string) error
	Tasks(ctx context.Context, contactID string) ([]Task, error)
	SearchOpportunities(ctx context.Context, contactID string) ([]Opportunity, error)
	Pipelines(ctx context.Context) ([]Pipeline, error)
	Messages(ctx context.Context, conversationID string) ([]Message, error)
}

// HTTPClient talks to a LeadConnector-compatible CRM API.
type HTTPClient struct {
	apiKey     string
	locationID string
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a CRM client with a 10s request timeout so a slow
// CRM cannot stall the message pipeline.
func NewHTTPClient(apiKey, locationID string) *HTTPClient {
	return &HTTPClient{
		apiKey:     apiKey,
		locationID: locationID,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// NewHTTPClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewHTTPClientWithBaseURL(apiKey, locationID, baseURL string) *HTTPClient {
	c := NewHTTPClient(apiKey, locationID)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *HTTPClient) FindContactByPhone(ctx context.Context, phone string) (Contact, error) {
	q := url.Values{}
	q.Set("locationId", c.locationID)
	q.Set("query", phone)

	var result struct {
		Contacts []Contact `json:"contacts"`
	}
	if err := c.do(ctx, http.MethodGet, "/contacts/?"+q.Encode(), nil, &result); err != nil {
		return Contact{}, err
	}
	if len(result.Contacts) == 0 {
		return Contact{}, ErrContactNotFound
	}
	return result.Contacts[0], nil
}

func (c *HTTPClient) CreateContact(ctx context.Context, phone, firstName string, tags []string) (Contact, error) {
	body := map[string]any{
		"locationId": c.locationID,
		"phone":      phone,
		"firstName":  firstName,
		"tags":       tags,
		"source":     "whatsapp",
	}

	var result struct {
		Contact Contact `json:"contact"`
	}
	if err := c.do(ctx, http.MethodPost, "/contacts/", body, &result); err != nil {
		return Contact{}, err
	}
	return result.Contact, nil
}

func (c *HTTPClient) AddTags(ctx context.Context, contactID string, tags []string) error {
	body := map[string]any{"tags": tags}
	return c.do(ctx, http.MethodPost, "/contacts/"+contactID+"/tags", body, nil)
}

func (c *HTTPClient) Tasks(ctx context.Context, contactID string) ([]Task, error) {
	var result struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/contacts/"+contactID+"/tasks", nil, &result); err != nil {
		return nil, err
	}
	return result.Tasks, nil
}

func (c *HTTPClient) SearchOpportunities(ctx context.Context, contactID string) ([]Opportunity, error) {
	q := url.Values{}
	q.Set("location_id", c.locationID)
	q.Set("contact_id", contactID)

	var result struct {
		Opportunities []Opportunity `json:"opportunities"`
	}
	if err := c.do(ctx, http.MethodGet, "/opportunities/search?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return result.Opportunities, nil
}

func (c *HTTPClient) Pipelines(ctx context.Context) ([]Pipeline, error) {
	q := url.Values{}
	q.Set("locationId", c.locationID)

	var result struct {
		Pipelines []Pipeline `json:"pipelines"`
	}
	if err := c.do(ctx, http.MethodGet, "/opportunities/pipelines?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return result.Pipelines, nil
}

func (c *HTTPClient) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var result struct {
		Messages struct {
			Messages []Message `json:"messages"`
		} `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations/"+conversationID+"/messages", nil, &result); err != nil {
		return nil, err
	}
	return result.Messages.Messages, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Version", apiVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrContactNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

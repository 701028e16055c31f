package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Turn is one persisted conversation message. Turns are append-only; nothing
// updates them after the insert.
type Turn struct {
	Identity  string
	Speaker   string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}

// KnowledgeDoc is a stored knowledge-base document. Content is the full
// extracted text; the chunked embeddings live in knowledge_vectors.
type KnowledgeDoc struct {
	ID        string
	Title     string
	Content   string
	Category  string
	Source    string // "manual", "pdf", or "crawl"
	CreatedAt time.Time
}

// RelayRecord is a journal entry for one outbound webhook delivery.
type RelayRecord struct {
	TraceID   string    `json:"traceId"`
	Identity  string    `json:"identity"`
	TargetURL string    `json:"targetUrl"`
	Attempts  int       `json:"attempts"`
	Status    string    `json:"status"` // "delivered", "failed", or "rejected"
	LastError string    `json:"lastError"`
	CreatedAt time.Time `json:"createdAt"`
}

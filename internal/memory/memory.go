package memory

import (
	"context"
	"sync"
	"time"
)

// Turn is one message in a conversation, immutable once created.
type Turn struct {
	Speaker   string    `json:"speaker"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Store holds bounded per-identity conversation memory. Implementations keep
// the most recent N turns per identity and evict the oldest first.
type Store interface {
	// Append adds a turn to the identity's memory, evicting the oldest turn
	// once the bound is exceeded.
	Append(ctx context.Context, identity string, turn Turn) error

	// Recent returns up to window most recent turns, oldest-first. Unknown
	// identities yield an empty slice, not an error.
	Recent(ctx context.Context, identity string, window int) ([]Turn, error)
}

// InMemoryStore is the default Store: a per-identity ring buffer that lives
// for the process lifetime. Append never fails.
type InMemoryStore struct {
	bound int

	mu    sync.RWMutex
	turns map[string][]Turn
}

// NewInMemoryStore creates a store bounded to the given number of turns per
// identity. A bound <= 0 defaults to 10.
func NewInMemoryStore(bound int) *InMemoryStore {
	if bound <= 0 {
		bound = 10
	}
	return &InMemoryStore{
		bound: bound,
		turns: make(map[string][]Turn),
	}
}

func (s *InMemoryStore) Append(_ context.Context, identity string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := append(s.turns[identity], turn)
	if len(buf) > s.bound {
		// Copy instead of re-slicing so the evicted head can be collected.
		trimmed := make([]Turn, s.bound)
		copy(trimmed, buf[len(buf)-s.bound:])
		buf = trimmed
	}
	s.turns[identity] = buf
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, identity string, window int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.turns[identity]
	if window <= 0 || window > len(buf) {
		window = len(buf)
	}
	out := make([]Turn, window)
	copy(out, buf[len(buf)-window:])
	return out, nil
}

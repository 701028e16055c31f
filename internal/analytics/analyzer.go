package analytics

import (
	"time"

	"github.com/kalambet/wachat/internal/memory"
)

// Analyzer caches Engine results per identity. Entries expire after the TTL
// (default 30 minutes) and the cache is bounded with FIFO eviction, so a
// burst of one-off identities cannot grow it without limit.
type Analyzer struct {
	engine *Engine
	cache  *memory.Cache[string, BehaviorProfile]
}

// NewAnalyzer creates an Analyzer with the given TTL and cache bound.
func NewAnalyzer(engine *Engine, ttl time.Duration, maxSize int) *Analyzer {
	return &Analyzer{
		engine: engine,
		cache:  memory.NewCache[string, BehaviorProfile](ttl, maxSize),
	}
}

// NewAnalyzerWithCache creates an Analyzer over an externally constructed
// cache (for tests that need clock control).
func NewAnalyzerWithCache(engine *Engine, cache *memory.Cache[string, BehaviorProfile]) *Analyzer {
	return &Analyzer{engine: engine, cache: cache}
}

// Profile returns the cached behavior profile for the identity, recomputing
// it from the transcript when the cached entry is missing or stale.
func (a *Analyzer) Profile(identity string, turns []memory.Turn) BehaviorProfile {
	if p, ok := a.cache.Get(identity); ok {
		return p
	}
	p := a.engine.Analyze(turns)
	a.cache.Set(identity, p)
	return p
}

// Invalidate drops the cached profile for an identity.
func (a *Analyzer) Invalidate(identity string) {
	a.cache.Delete(identity)
}

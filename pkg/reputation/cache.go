package reputation

import (
	"sync"
	"time"
)

// ScoreCache is a per-peer, TTL-bound score cache. A miss forces the caller
// to recompute from the current verdict set.
type ScoreCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]CachedScore
}

// NewScoreCache builds a cache with the given TTL.
func NewScoreCache(ttl time.Duration) *ScoreCache {
	return &ScoreCache{ttl: ttl, entries: make(map[string]CachedScore)}
}

// Get returns the cached score for peerID if present and not stale.
func (c *ScoreCache) Get(peerID string) (CachedScore, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[peerID]
	if !ok {
		return CachedScore{}, false
	}
	if time.Since(entry.CachedAt) > c.ttl {
		delete(c.entries, peerID)
		return CachedScore{}, false
	}
	return entry, true
}

// Set stores a freshly computed score.
func (c *ScoreCache) Set(peerID string, score float64, trust TrustLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[peerID] = CachedScore{Score: score, TrustLevel: trust, CachedAt: time.Now()}
}

// Clear drops a single peer's cached score.
func (c *ScoreCache) Clear(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, peerID)
}

// CleanupExpired prunes every stale entry and returns how many were removed.
func (c *ScoreCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, entry := range c.entries {
		if time.Since(entry.CachedAt) > c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

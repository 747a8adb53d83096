package token

import (
	"sync"
	"time"
)

// versionCache is a small read-through cache for token-version lookups.
// Entries live for a bounded window, so a just-revoked token may keep
// verifying for at most that window. That staleness is an accepted,
// documented tradeoff; RevokeAll invalidates the local entry immediately.
type versionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]versionEntry
}

type versionEntry struct {
	version   int64
	expiresAt time.Time
}

func newVersionCache(ttl time.Duration, now func() time.Time) *versionCache {
	return &versionCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]versionEntry),
	}
}

func (c *versionCache) get(accountID string) (int64, bool) {
	if c.ttl <= 0 {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[accountID]
	if !ok || c.now().After(e.expiresAt) {
		delete(c.entries, accountID)
		return 0, false
	}
	return e.version, true
}

func (c *versionCache) put(accountID string, version int64) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[accountID] = versionEntry{version: version, expiresAt: c.now().Add(c.ttl)}
}

func (c *versionCache) invalidate(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, accountID)
}

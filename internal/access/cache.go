package access

import (
	"strings"
	"sync"
	"time"

	"github.com/querygate/querygate/internal/telemetry"
)

// decisionCache memoizes permission check outcomes for a short TTL so a burst
// of queries from the same user does not hammer the grants table. Entries are
// keyed by user, schema, and required level; every write path through the
// ledger invalidates the affected user's entries before returning, so a caller
// that grants and immediately checks sees its own write.
type decisionCache struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type cacheEntry struct {
	allowed   bool
	expiresAt time.Time
}

func newDecisionCache(ttl time.Duration, maxEntries int) *decisionCache {
	return &decisionCache{
		entries:    make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func cacheKey(userID, schemaName string, required string) string {
	return userID + ":" + schemaName + ":" + required
}

// get returns the cached decision and whether it was present and fresh.
func (c *decisionCache) get(key string) (bool, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !entry.expiresAt.After(c.now()) {
		telemetry.PermissionCacheEvents.WithLabelValues("miss").Inc()
		return false, false
	}
	telemetry.PermissionCacheEvents.WithLabelValues("hit").Inc()
	return entry.allowed, true
}

// set stores a decision for the full TTL.
func (c *decisionCache) set(key string, allowed bool) {
	c.store(key, allowed, c.now().Add(c.ttl))
}

// setUntil stores a decision that must not outlive deadline. The entry gets
// the TTL or the deadline, whichever comes first, so a decision derived from
// an expiring grant goes stale together with the grant.
func (c *decisionCache) setUntil(key string, allowed bool, deadline time.Time) {
	expiresAt := c.now().Add(c.ttl)
	if deadline.Before(expiresAt) {
		expiresAt = deadline
	}
	c.store(key, allowed, expiresAt)
}

// At capacity the entry closest to expiry is dropped.
func (c *decisionCache) store(key string, allowed bool, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = cacheEntry{allowed: allowed, expiresAt: expiresAt}
}

func (c *decisionCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.expiresAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		telemetry.PermissionCacheEvents.WithLabelValues("evict").Inc()
	}
}

// invalidateUser drops every cached decision for the user.
func (c *decisionCache) invalidateUser(userID string) {
	prefix := userID + ":"
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
	telemetry.PermissionCacheEvents.WithLabelValues("invalidate").Inc()
}

// clear drops everything. Used after bulk changes such as expiry sweeps.
func (c *decisionCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
	telemetry.PermissionCacheEvents.WithLabelValues("clear").Inc()
}

func (c *decisionCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

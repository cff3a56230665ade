package manifest

import (
	"net/http"
	"sync"
	"time"
)

// DefaultResultTTL is the per-entry lifetime of a verification result.
const DefaultResultTTL = time.Hour

// MaxCapturedBytes bounds the content captured alongside a verification
// result so the cache can serve verified bytes without holding arbitrarily
// large payloads.
const MaxCapturedBytes = 10 << 20 // 10 MiB

// VerificationResult is the outcome record for one verified resource.
type VerificationResult struct {
	TxID      string
	Verified  bool
	Hash      string
	Error     string
	Timestamp time.Time

	// Content carries the verified bytes when the payload fit under
	// MaxCapturedBytes; nil otherwise.
	Content     []byte
	ContentType string
	Headers     http.Header
}

type cacheEntry struct {
	result    *VerificationResult
	expiresAt time.Time
}

// Cache is an in-process verification-result cache with per-entry TTL.
//
// It is safe for concurrent use. Reads prune expired entries lazily;
// Prune removes every expired entry at once.
type Cache struct {
	mu    sync.RWMutex
	items map[string]cacheEntry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{items: make(map[string]cacheEntry)}
}

// Get returns the cached result for txID. Returns (nil, false) on a miss
// or if the entry has expired; expired entries are removed on access.
func (c *Cache) Get(txID string) (*VerificationResult, bool) {
	c.mu.RLock()
	entry, ok := c.items[txID]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.items, txID)
		c.mu.Unlock()
		return nil, false
	}

	return entry.result, true
}

// Set stores result under txID for the duration of ttl. Writes are
// upserts. A zero or negative ttl is treated as DefaultResultTTL. Captured
// content above MaxCapturedBytes is dropped from the stored entry.
func (c *Cache) Set(txID string, result *VerificationResult, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	if result != nil && len(result.Content) > MaxCapturedBytes {
		trimmed := *result
		trimmed.Content = nil
		result = &trimmed
	}

	c.mu.Lock()
	c.items[txID] = cacheEntry{
		result:    result,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
}

// Prune removes exactly the entries whose TTL has elapsed and reports how
// many were removed.
func (c *Cache) Prune() int {
	now := time.Now()
	removed := 0

	c.mu.Lock()
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	c.mu.Unlock()

	return removed
}

// Len returns the number of entries currently held (including entries that
// may have expired but not yet been evicted).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

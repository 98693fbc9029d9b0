package main

import (
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Resolution Cache
// ============================================================================

// ResolutionCache memoizes query -> resolved playable URI so repeated plays
// of the same search or link skip the external extractor. A miss only costs
// one extra lookup, so expiry is lazy: entries past their deadline read as
// absent and get swept by the janitor whenever it next runs.
type ResolutionCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	uri       string
	expiresAt time.Time
}

func NewResolutionCache() *ResolutionCache {
	return &ResolutionCache{
		entries: make(map[string]cacheEntry),
	}
}

// cacheKey folds case and trims whitespace so "Never Gonna " and
// "never gonna" share an entry.
func cacheKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Get returns the cached URI for a query. Expired entries read as absent;
// the read itself never mutates the map.
func (c *ResolutionCache) Get(query string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[cacheKey(query)]
	if !ok || !time.Now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.uri, true
}

// Put stores a resolved URI, overwriting any previous entry wholesale.
func (c *ResolutionCache) Put(query, uri string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(query)] = cacheEntry{
		uri:       uri,
		expiresAt: time.Now().Add(ttl),
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *ResolutionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Prune removes expired entries and reports how many were dropped.
func (c *ResolutionCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"sync"
	"time"
)

// BalanceCache is the read-through cache in front of the balance store. It
// is an injected abstraction so a distributed cache with cross-instance
// invalidation can be substituted without touching ledger logic.
//
// Lookup misses (user not found) are never cached; only found records enter
// the cache.
type BalanceCache interface {
	Get(userID string) (*UserBalance, bool)
	Set(userID string, user *UserBalance)
	Invalidate(userID string)
}

// MemoryBalanceCache is a per-process TTL cache. Entries expire after the
// configured TTL or on explicit invalidation. In a multi-instance deployment
// another instance's cache can stay stale up to its own TTL after a mutation
// here; that cross-instance gap is accepted.
type MemoryBalanceCache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	user     *UserBalance
	cachedAt time.Time
}

// DefaultCacheTTL bounds how stale a concurrent reader in the same process
// can observe a balance.
const DefaultCacheTTL = 300 * time.Second

// NewMemoryBalanceCache creates a cache with the given TTL; ttl <= 0 falls
// back to DefaultCacheTTL.
func NewMemoryBalanceCache(ttl time.Duration) *MemoryBalanceCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryBalanceCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns a copy of the cached snapshot, or a miss when absent or
// expired. Expired entries are dropped lazily.
func (c *MemoryBalanceCache) Get(userID string) (*UserBalance, bool) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.cachedAt) > c.ttl {
		c.Invalidate(userID)
		return nil, false
	}
	return entry.user.Clone(), true
}

// Set stores a copy of the snapshot with a fresh TTL.
func (c *MemoryBalanceCache) Set(userID string, user *UserBalance) {
	if user == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = cacheEntry{user: user.Clone(), cachedAt: c.now()}
}

// Invalidate drops the entry for a user. Called synchronously after every
// successful write so the mutating caller's own next read is fresh.
func (c *MemoryBalanceCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// Len returns the number of live entries, expired or not.
func (c *MemoryBalanceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

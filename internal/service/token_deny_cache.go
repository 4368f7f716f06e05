package service

import (
	"context"
	"sync"
	"time"
)

// TokenDenyCache remembers access-token values that failed verification.
// Entries only ever move a token toward "denied", so a hit can be trusted
// without consulting the store; a miss always falls through. Flush drops the
// whole keyspace in one sweep; bulk revocation uses it instead of waiting for
// per-entry TTLs.
type TokenDenyCache interface {
	Contains(ctx context.Context, token string) (bool, error)
	Add(ctx context.Context, token string, ttl time.Duration) error
	Flush(ctx context.Context) error
}

type NoopTokenDenyCache struct{}

func NewNoopTokenDenyCache() *NoopTokenDenyCache { return &NoopTokenDenyCache{} }

func (NoopTokenDenyCache) Contains(context.Context, string) (bool, error)   { return false, nil }
func (NoopTokenDenyCache) Add(context.Context, string, time.Duration) error { return nil }
func (NoopTokenDenyCache) Flush(context.Context) error                      { return nil }

type InMemoryTokenDenyCache struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewInMemoryTokenDenyCache() *InMemoryTokenDenyCache {
	return &InMemoryTokenDenyCache{entries: make(map[string]time.Time)}
}

func (c *InMemoryTokenDenyCache) Contains(_ context.Context, token string) (bool, error) {
	now := time.Now().UTC()
	c.mu.RLock()
	expiresAt, ok := c.entries[token]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if now.After(expiresAt) {
		c.mu.Lock()
		delete(c.entries, token)
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *InMemoryTokenDenyCache) Add(_ context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.entries[token] = time.Now().UTC().Add(ttl)
	c.mu.Unlock()
	return nil
}

func (c *InMemoryTokenDenyCache) Flush(context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]time.Time)
	c.mu.Unlock()
	return nil
}

package auth

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryBlacklist is an in-process TokenBlacklist for deployments without
// Redis. Entries live for at most maxTTL; revocations do not survive restarts.
type MemoryBlacklist struct {
	cache *expirable.LRU[string, time.Time]
}

func NewMemoryBlacklist(size int, maxTTL time.Duration) *MemoryBlacklist {
	return &MemoryBlacklist{cache: expirable.NewLRU[string, time.Time](size, nil, maxTTL)}
}

func (b *MemoryBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	until, ok := b.cache.Get(jti)
	if !ok {
		return false, nil
	}
	return time.Now().Before(until), nil
}

func (b *MemoryBlacklist) AddToBlacklist(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b.cache.Add(jti, time.Now().Add(ttl))
	return nil
}

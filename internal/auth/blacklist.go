package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBlacklist defines interface for checking revoked tokens
type TokenBlacklist interface {
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error
}

type RedisBlacklist struct {
	client *redis.Client
	prefix string
}

func NewRedisBlacklist(client *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{client: client, prefix: "firewatch"}
}

func (r *RedisBlacklist) key(jti string) string {
	return fmt.Sprintf("%s:blacklist:%s", r.prefix, jti)
}

func (r *RedisBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	exists, err := r.client.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// AddToBlacklist keeps the entry only as long as the token could still be valid.
func (r *RedisBlacklist) AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.key(jti), "revoked", ttl).Err()
}

package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

type Decision struct {
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Allowed    bool
}

type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

func (c LimitConfig) Enabled() bool { return c.Rate > 0 && c.Window > 0 }

// fixed window starting at the first hit; the reply carries the remaining TTL.
var windowScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return {current, redis.call("PTTL", KEYS[1])}
`)

type Limiter struct {
	client *redis.Client
	salt   string
}

func NewLimiter(client *redis.Client, salt string) *Limiter {
	if salt == "" {
		salt = "firewatch"
	}
	return &Limiter{client: client, salt: salt}
}

// HashIP keeps raw client addresses out of Redis.
func (l *Limiter) HashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip + l.salt))
	return hex.EncodeToString(hash[:])
}

func (l *Limiter) Check(ctx context.Context, key string, cfg LimitConfig) (*Decision, error) {
	res, err := windowScript.Run(ctx, l.client, []string{"rl:" + key}, cfg.Window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		return nil, ErrRedisUnavailable
	}
	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if ttl < 0 {
		ttl = cfg.Window
	}

	remaining := cfg.Rate - count
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{
		Limit:      cfg.Rate,
		Remaining:  remaining,
		RetryAfter: ttl,
		Allowed:    count <= cfg.Rate,
	}, nil
}

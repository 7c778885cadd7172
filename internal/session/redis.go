package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	LockoutTTL       = 15 * time.Minute
	LockoutThreshold = 5
)

// Manager tracks issued credentials per user and failed-login lockouts in Redis.
type Manager struct {
	client    *redis.Client
	threshold int64
	lockTTL   time.Duration
}

func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client, threshold: LockoutThreshold, lockTTL: LockoutTTL}
}

// WithLockout overrides the failed-attempt threshold and lock duration.
func (m *Manager) WithLockout(threshold int, ttl time.Duration) *Manager {
	if threshold > 0 {
		m.threshold = int64(threshold)
	}
	if ttl > 0 {
		m.lockTTL = ttl
	}
	return m
}

func userKey(userID int64) string {
	return fmt.Sprintf("user_sessions:%s", strconv.FormatInt(userID, 10))
}

// CreateSession records jti as live for the user until expiresAt.
func (m *Manager) CreateSession(ctx context.Context, userID int64, jti string, expiresAt time.Time) error {
	key := userKey(userID)
	pipe := m.client.Pipeline()

	// Score is the expiry so stale members can be pruned by range.
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiresAt.Unix()), Member: jti})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(time.Now().Unix(), 10))
	pipe.ExpireAt(ctx, key, expiresAt)

	_, err := pipe.Exec(ctx)
	return err
}

func (m *Manager) RevokeSession(ctx context.Context, userID int64, jti string) error {
	return m.client.ZRem(ctx, userKey(userID), jti).Err()
}

// RevokeAllUserSessions forgets every live session of the user and returns
// the jtis with their remaining lifetime so the caller can blacklist them.
func (m *Manager) RevokeAllUserSessions(ctx context.Context, userID int64) (map[string]time.Duration, error) {
	key := userKey(userID)
	members, err := m.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if err := m.client.Del(ctx, key).Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	out := make(map[string]time.Duration, len(members))
	for _, z := range members {
		jti, ok := z.Member.(string)
		if !ok {
			continue
		}
		remaining := time.Unix(int64(z.Score), 0).Sub(now)
		if remaining > 0 {
			out[jti] = remaining
		}
	}
	return out, nil
}

// CheckLockout returns true if the username is locked out
func (m *Manager) CheckLockout(ctx context.Context, username string) (bool, error) {
	val, err := m.client.Get(ctx, "lockout:"+username).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "locked", nil
}

// RecordFailedAttempt increments the failure count and locks at the threshold.
func (m *Manager) RecordFailedAttempt(ctx context.Context, username string) error {
	key := "lockout_count:" + username
	count, err := m.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}

	// Expiry set on the first failure so the window resets.
	if count == 1 {
		m.client.Expire(ctx, key, m.lockTTL)
	}

	if count >= m.threshold {
		pipe := m.client.TxPipeline()
		pipe.Set(ctx, "lockout:"+username, "locked", m.lockTTL)
		pipe.Del(ctx, key)
		_, err = pipe.Exec(ctx)
		return err
	}
	return nil
}

// ResetAttempts clears the failure counter after a successful login.
func (m *Manager) ResetAttempts(ctx context.Context, username string) error {
	return m.client.Del(ctx, "lockout_count:"+username).Err()
}

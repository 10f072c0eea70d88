package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker records signed-out token ids until the tokens would expire.
type Revoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisRevoker stores revoked token ids as expiring Redis keys.
type RedisRevoker struct {
	rdb *redis.Client
}

// NewRedisRevoker returns a Revoker backed by rdb.
func NewRedisRevoker(rdb *redis.Client) *RedisRevoker {
	return &RedisRevoker{rdb: rdb}
}

func revokedKey(jti string) string {
	return "revoked:" + jti
}

// Revoke marks jti revoked. Already expired tokens need no record.
func (r *RedisRevoker) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, revokedKey(jti), 1, ttl).Err()
}

// IsRevoked reports whether jti was revoked.
func (r *RedisRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryRevoker is an in-process Revoker for tests and single-node runs.
type MemoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewMemoryRevoker returns an empty MemoryRevoker.
func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{revoked: map[string]time.Time{}}
}

func (m *MemoryRevoker) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = expiresAt
	return nil
}

func (m *MemoryRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.revoked[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(m.revoked, jti)
		return false, nil
	}
	return true, nil
}

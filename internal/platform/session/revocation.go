package session

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations records ended sessions until their tokens would have expired
// on their own.
type Revocations interface {
	Revoke(ctx context.Context, id string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// MemoryRevocations keeps revoked session ids in process. Entries are
// dropped once past expiry.
type MemoryRevocations struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{entries: make(map[string]time.Time), now: time.Now}
}

func (r *MemoryRevocations) Revoke(_ context.Context, id string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	r.entries[id] = expiresAt
	return nil
}

func (r *MemoryRevocations) IsRevoked(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok, nil
}

// Len returns the number of tracked revocations.
func (r *MemoryRevocations) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// sweep drops expired entries. Caller holds the write lock.
func (r *MemoryRevocations) sweep() {
	now := r.now()
	for id, exp := range r.entries {
		if now.After(exp) {
			delete(r.entries, id)
		}
	}
}

// RedisRevocations shares the revocation list between server instances.
// Keys expire with the token.
type RedisRevocations struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisRevocations(rdb redis.Cmdable, prefix string) *RedisRevocations {
	if prefix == "" {
		prefix = "intake:session:revoked"
	}
	return &RedisRevocations{rdb: rdb, prefix: prefix}
}

func (r *RedisRevocations) Revoke(ctx context.Context, id string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, r.prefix+":"+id, 1, ttl).Err()
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, id string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.prefix+":"+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationRegistry tracks session tokens that must no longer be accepted
// regardless of their embedded expiry. Revoking is idempotent; entries only
// need to outlive the token's natural expiry.
type RevocationRegistry interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

type MemoryRegistry struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{revoked: make(map[string]time.Time)}
}

func (r *MemoryRegistry) Revoke(_ context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		// Already past its natural expiry, nothing to track.
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(time.Now())
	r.revoked[token] = time.Now().Add(ttl)
	return nil
}

func (r *MemoryRegistry) IsRevoked(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.revoked[token]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(r.revoked, token)
		return false, nil
	}
	return true, nil
}

// prune drops entries whose tracked token has expired anyway. Called with
// the lock held.
func (r *MemoryRegistry) prune(now time.Time) {
	for token, expiry := range r.revoked {
		if now.After(expiry) {
			delete(r.revoked, token)
		}
	}
}

// RedisRegistry stores revoked tokens as TTL-keyed entries so revocation
// survives a process restart. Expiry-based pruning is Redis's own.
type RedisRegistry struct {
	client *redis.Client
}

func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func (r *RedisRegistry) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, revocationKey(token), "1", ttl).Err()
}

func (r *RedisRegistry) IsRevoked(ctx context.Context, token string) (bool, error) {
	count, err := r.client.Exists(ctx, revocationKey(token)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func revocationKey(token string) string {
	return fmt.Sprintf("revoked_session:%s", token)
}

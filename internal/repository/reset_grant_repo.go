package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrGrantStoreUnavailable = errors.New("reset grant store unavailable")

// ResetGrantRepository holds single-use password reset grants keyed by the
// digest of the grant token.
type ResetGrantRepository interface {
	Save(ctx context.Context, tokenHash string, userID string, ttl time.Duration) error
	// Consume returns the grant owner and deletes the grant. An unknown or
	// expired grant yields an empty user id.
	Consume(ctx context.Context, tokenHash string) (string, error)
}

type redisResetGrantRepository struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisResetGrantRepository(client redis.UniversalClient, prefix string) ResetGrantRepository {
	if prefix == "" {
		prefix = "pv:reset"
	}
	return &redisResetGrantRepository{redis: client, prefix: prefix}
}

func (r *redisResetGrantRepository) key(tokenHash string) string {
	return r.prefix + ":" + tokenHash
}

func (r *redisResetGrantRepository) Save(ctx context.Context, tokenHash string, userID string, ttl time.Duration) error {
	if err := r.redis.Set(ctx, r.key(tokenHash), userID, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrGrantStoreUnavailable, err)
	}
	return nil
}

func (r *redisResetGrantRepository) Consume(ctx context.Context, tokenHash string) (string, error) {
	userID, err := r.redis.GetDel(ctx, r.key(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGrantStoreUnavailable, err)
	}
	return userID, nil
}

type memoryGrant struct {
	userID    string
	expiresAt time.Time
}

type memoryResetGrantRepository struct {
	mu     sync.Mutex
	grants map[string]memoryGrant
	now    func() time.Time
}

// NewMemoryResetGrantRepository is used when no Redis address is configured.
// Grants do not survive a restart and are not shared between instances.
func NewMemoryResetGrantRepository() ResetGrantRepository {
	return &memoryResetGrantRepository{grants: make(map[string]memoryGrant), now: time.Now}
}

func (r *memoryResetGrantRepository) Save(ctx context.Context, tokenHash string, userID string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for key, grant := range r.grants {
		if !now.Before(grant.expiresAt) {
			delete(r.grants, key)
		}
	}
	r.grants[tokenHash] = memoryGrant{userID: userID, expiresAt: now.Add(ttl)}
	return nil
}

func (r *memoryResetGrantRepository) Consume(ctx context.Context, tokenHash string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	grant, ok := r.grants[tokenHash]
	if !ok {
		return "", nil
	}
	delete(r.grants, tokenHash)
	if !r.now().Before(grant.expiresAt) {
		return "", nil
	}
	return grant.userID, nil
}

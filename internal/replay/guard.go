// Package replay tracks consumed single-use nonces within their validity
// window. Entries are purely operational state with bounded retention; there
// is no persistence requirement across restarts for the in-memory guard.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"fitpass/internal/store"
)

// DefaultTTL is the nonce retention window. It is deliberately longer than a
// legacy token's embedded expiry to cover clock skew and in-flight retries.
const DefaultTTL = 30 * time.Second

// Guard records consumed nonces. Implementations must make Consume atomic per
// nonce: of two concurrent calls with the same nonce, exactly one returns true.
type Guard interface {
	// Consume marks the nonce used for ttl. It returns true if the nonce was
	// not previously consumed (the caller may proceed), false on replay.
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
	// IsUsed reports whether the nonce is currently marked consumed. Expired
	// entries may be evicted as a side effect of the check.
	IsUsed(ctx context.Context, nonce string) (bool, error)
}

// Memory is the in-process guard: a mutex-guarded map of nonce to expiry with
// lazy eviction. Suitable for single-instance deployments only.
type Memory struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	ops    int
}

// NewMemory creates an empty in-memory guard.
func NewMemory() *Memory {
	return &Memory{nonces: make(map[string]time.Time)}
}

// Consume implements Guard with a single check-then-insert critical section.
func (m *Memory) Consume(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.nonces[nonce]; ok && now.Before(exp) {
		return false, nil
	}
	m.nonces[nonce] = now.Add(ttl)
	m.maybeSweep(now)
	return true, nil
}

// IsUsed implements Guard. An expired entry found during the check is evicted.
func (m *Memory) IsUsed(_ context.Context, nonce string) (bool, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.nonces[nonce]
	if !ok {
		return false, nil
	}
	if now.After(exp) {
		delete(m.nonces, nonce)
		return false, nil
	}
	return true, nil
}

// maybeSweep drops expired entries every few hundred mutations so the map
// stays bounded without a background goroutine. Caller holds the lock.
func (m *Memory) maybeSweep(now time.Time) {
	m.ops++
	if m.ops < 256 {
		return
	}
	m.ops = 0
	for nonce, exp := range m.nonces {
		if now.After(exp) {
			delete(m.nonces, nonce)
		}
	}
}

// Len returns the number of tracked entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nonces)
}

// Redis is the shared guard for multi-instance deployments. SET NX makes the
// consume atomic across processes and redis expires entries on its own.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a guard on the given client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Consume implements Guard via SET key NX EX.
func (r *Redis) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return r.client.SetNX(ctx, store.NonceKeyPrefix+nonce, "1", ttl).Result()
}

// IsUsed implements Guard.
func (r *Redis) IsUsed(ctx context.Context, nonce string) (bool, error) {
	n, err := r.client.Exists(ctx, store.NonceKeyPrefix+nonce).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

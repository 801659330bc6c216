package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key namespaces on the shared redis instance. Everything this service
// writes lives under fitpass: so a flush or scan can target it precisely.
const (
	NonceKeyPrefix  = "fitpass:nonce:"
	CheckInQueueKey = "fitpass:checkins"
)

// Redis wraps the shared redis client used by the replay guard and queue.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts. The replay guard sits on
// the check-in path, so a slow redis must fail fast rather than stall scans.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

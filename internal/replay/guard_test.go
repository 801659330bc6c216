package replay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryConsumeOnce(t *testing.T) {
	g := NewMemory()
	ctx := context.Background()

	fresh, err := g.Consume(ctx, "n1", time.Minute)
	if err != nil || !fresh {
		t.Fatalf("first consume: fresh=%v err=%v", fresh, err)
	}
	fresh, err = g.Consume(ctx, "n1", time.Minute)
	if err != nil || fresh {
		t.Fatalf("second consume should be replay: fresh=%v err=%v", fresh, err)
	}

	used, err := g.IsUsed(ctx, "n1")
	if err != nil || !used {
		t.Fatalf("expected nonce used: used=%v err=%v", used, err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	g := NewMemory()
	ctx := context.Background()

	if fresh, _ := g.Consume(ctx, "n1", 10*time.Millisecond); !fresh {
		t.Fatal("first consume should be fresh")
	}
	time.Sleep(20 * time.Millisecond)

	if used, _ := g.IsUsed(ctx, "n1"); used {
		t.Error("expired nonce should not read as used")
	}
	// Expired entry was evicted by the check.
	if g.Len() != 0 {
		t.Errorf("expected lazy eviction, %d entries left", g.Len())
	}
	if fresh, _ := g.Consume(ctx, "n1", time.Minute); !fresh {
		t.Error("nonce should be consumable again after expiry")
	}
}

func TestMemoryConcurrentConsume(t *testing.T) {
	g := NewMemory()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := g.Consume(ctx, "shared", time.Minute)
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if fresh {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("expected exactly 1 of %d concurrent consumes to pass, got %d", n, accepted)
	}
}

func newRedisGuard(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr
}

func TestRedisConsumeOnce(t *testing.T) {
	g, _ := newRedisGuard(t)
	ctx := context.Background()

	fresh, err := g.Consume(ctx, "n1", time.Minute)
	if err != nil || !fresh {
		t.Fatalf("first consume: fresh=%v err=%v", fresh, err)
	}
	fresh, err = g.Consume(ctx, "n1", time.Minute)
	if err != nil || fresh {
		t.Fatalf("second consume should be replay: fresh=%v err=%v", fresh, err)
	}

	used, err := g.IsUsed(ctx, "n1")
	if err != nil || !used {
		t.Fatalf("expected nonce used: used=%v err=%v", used, err)
	}
}

func TestRedisExpiry(t *testing.T) {
	g, mr := newRedisGuard(t)
	ctx := context.Background()

	if fresh, _ := g.Consume(ctx, "n1", time.Second); !fresh {
		t.Fatal("first consume should be fresh")
	}
	mr.FastForward(2 * time.Second)

	if used, _ := g.IsUsed(ctx, "n1"); used {
		t.Error("expired nonce should not read as used")
	}
	if fresh, _ := g.Consume(ctx, "n1", time.Minute); !fresh {
		t.Error("nonce should be consumable again after expiry")
	}
}

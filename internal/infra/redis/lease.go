package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-engine/internal/lease"
	goredis "github.com/redis/go-redis/v9"
)

// Deletes the key only while it still carries this holder's token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ lease.Lease = (*TickLease)(nil)

// TickLease is a best-effort mutual exclusion lock held in Redis with SET NX PX.
// A crashed holder loses the lease when its TTL lapses.
type TickLease struct {
	client goredis.UniversalClient
	token  string

	mu   sync.Mutex
	held map[string]struct{}
}

func NewTickLease(client goredis.UniversalClient) (*TickLease, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &TickLease{
		client: client,
		token:  uuid.NewString(),
		held:   make(map[string]struct{}),
	}, nil
}

func (l *TickLease) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("lease name is required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("lease ttl must be positive")
	}

	err := l.client.SetArgs(ctx, leaseKey(name), l.token, goredis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}

	l.mu.Lock()
	l.held[name] = struct{}{}
	l.mu.Unlock()
	return true, nil
}

func (l *TickLease) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	_, ok := l.held[name]
	delete(l.held, name)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client, []string{leaseKey(name)}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}
	return nil
}

func leaseKey(name string) string {
	return key("lease", name)
}

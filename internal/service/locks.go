package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TicketLocker serializes transitions for a single ticket. Lock returns
// acquired=false when another request currently holds the ticket.
type TicketLocker interface {
	Lock(ctx context.Context, ticketID string, ttl time.Duration) (release func(), acquired bool, err error)
}

const ticketLockPrefix = "workflow:ticket-lock:"

// Lock release must only delete the key if we still own it.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0`)

// RedisTicketLocker holds per-ticket locks in Redis so advancement stays
// serialized across service instances. The TTL bounds lock leakage when a
// holder dies mid-transition.
type RedisTicketLocker struct {
	client *redis.Client
}

// NewRedisTicketLocker creates the locker.
func NewRedisTicketLocker(client *redis.Client) *RedisTicketLocker {
	return &RedisTicketLocker{client: client}
}

func (l *RedisTicketLocker) Lock(ctx context.Context, ticketID string, ttl time.Duration) (func(), bool, error) {
	key := ticketLockPrefix + ticketID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		_ = unlockScript.Run(context.Background(), l.client, []string{key}, token).Err()
	}
	return release, true, nil
}

// MemoryTicketLocker is the single-process fallback used when Redis is not
// configured, and in tests.
type MemoryTicketLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryTicketLocker creates the locker.
func NewMemoryTicketLocker() *MemoryTicketLocker {
	return &MemoryTicketLocker{held: make(map[string]struct{})}
}

func (l *MemoryTicketLocker) Lock(_ context.Context, ticketID string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[ticketID]; taken {
		return nil, false, nil
	}
	l.held[ticketID] = struct{}{}
	release := func() {
		l.mu.Lock()
		delete(l.held, ticketID)
		l.mu.Unlock()
	}
	return release, true, nil
}

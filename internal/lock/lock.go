// Package lock provides the per-campaign lease that keeps two workers from
// processing chunks of the same campaign at once.
package lock

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease is a held lock. Release is idempotent from the caller's view.
type Lease interface {
	Release(ctx context.Context) error
	Extend(ctx context.Context, ttl time.Duration) error
}

// Locker hands out leases keyed by campaign id. TryAcquire never blocks
// waiting for another holder: ok is false when the key is taken.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (lease Lease, ok bool, err error)
}

// New picks Redis when a client is configured, otherwise Postgres advisory
// locks, otherwise a process-local locker.
func New(client *redis.Client, db *sql.DB, ttl time.Duration) Locker {
	switch {
	case client != nil:
		return NewRedisLocker(client, ttl)
	case db != nil:
		return NewPGLocker(db)
	default:
		return NewLocalLocker()
	}
}

// LocalLocker serializes keys inside one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryAcquire(_ context.Context, key string) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	return &localLease{owner: l, key: key}, true, nil
}

type localLease struct {
	owner *LocalLocker
	key   string
	once  sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.held, l.key)
		l.owner.mu.Unlock()
	})
	return nil
}

func (l *localLease) Extend(context.Context, time.Duration) error { return nil }

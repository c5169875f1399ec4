package lock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// PGLocker uses session-level advisory locks. Each lease pins one pooled
// connection, because pg_advisory_unlock must run on the session that locked.
type PGLocker struct {
	db *sql.DB
}

func NewPGLocker(db *sql.DB) *PGLocker {
	return &PGLocker{db: db}
}

func advisoryID(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte("campaign:" + key))
	return int64(h.Sum64())
}

func (l *PGLocker) TryAcquire(ctx context.Context, key string) (Lease, bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("advisory lock conn: %w", err)
	}
	id := advisoryID(key)

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("advisory lock %s: %w", key, err)
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}
	return &pgLease{conn: conn, id: id}, true, nil
}

type pgLease struct {
	conn *sql.Conn
	id   int64
	once sync.Once
	err  error
}

func (l *pgLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.id)
		cerr := l.conn.Close()
		if err == nil {
			err = cerr
		}
		l.err = err
	})
	return l.err
}

// Extend is a no-op: the lock lives as long as the session.
func (l *pgLease) Extend(context.Context, time.Duration) error { return nil }

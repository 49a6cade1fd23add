package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"
)

const unlockTimeout = 5 * time.Second

// Locker serializes one job across replicas. TryAcquire reports false when
// another holder has the key; release must be called exactly once when
// acquired.
type Locker interface {
	TryAcquire(ctx context.Context, key int64) (release func(), acquired bool, err error)
}

// PGLocker implements Locker with Postgres session advisory locks.
type PGLocker struct {
	db *sql.DB
}

// NewPGLocker creates a locker over the given database handle.
func NewPGLocker(db *sql.DB) *PGLocker {
	return &PGLocker{db: db}
}

// TryAcquire takes the advisory lock without blocking. Session locks live
// on one connection, so acquire and release ride the same *sql.Conn; the
// pooled handle cannot be allowed to route the unlock to a different
// session.
func (l *PGLocker) TryAcquire(ctx context.Context, key int64) (func(), bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx,
		`SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("taking advisory lock %d: %w", key, err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}

	release := func() {
		// The job context may already be expired; the unlock still has
		// to go out. Closing the connection releases the lock server-side
		// regardless, so a failed unlock is not fatal.
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		_, _ = conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, key)
		_ = conn.Close()
	}
	return release, true, nil
}

// lockKey derives a stable advisory key from the job name. The prefix
// keeps the keys clear of other applications sharing the database.
func lockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("preview-pool/" + name))
	return int64(h.Sum64()) //nolint:gosec // deliberate wraparound, the key only needs to be stable
}

// Verify interface compliance.
var _ Locker = (*PGLocker)(nil)

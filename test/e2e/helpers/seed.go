//go:build integration

package helpers

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// TestDB is a direct database connection for seeding rows the API cannot
// produce, such as allocations closed in a past accounting window.
type TestDB struct {
	DB *sql.DB
}

// NewTestDB opens a connection to an already-migrated database. The
// connection is closed when the test completes.
func NewTestDB(t *testing.T, dsn string) *TestDB {
	t.Helper()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("pinging database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return &TestDB{DB: db}
}

// PoolID looks up the pool for a platform and device type.
func (d *TestDB) PoolID(t *testing.T, platform, deviceType string) string {
	t.Helper()

	var id string
	err := d.DB.QueryRowContext(context.Background(),
		`SELECT id FROM pools WHERE platform = $1 AND device_type = $2`,
		platform, deviceType).Scan(&id)
	if err != nil {
		t.Fatalf("looking up pool %s/%s: %v", platform, deviceType, err)
	}
	return id
}

// InsertClosedAllocation seeds a terminated instance with one allocation
// closed at releasedAt, and returns the instance ID. Backdating releasedAt
// places the runtime in a past accounting window so sweeps can bill it.
func (d *TestDB) InsertClosedAllocation(t *testing.T, poolID, consumerID string, duration time.Duration, releasedAt time.Time) string {
	t.Helper()

	ctx := context.Background()
	sessionID := uuid.NewString()
	allocatedAt := releasedAt.Add(-duration)

	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO session_instances
			(id, pool_id, provider_session_id, public_handle, status,
			 health_status, last_consumer_id, last_active_at, created_at, terminated_at)
		VALUES ($1, $2, $3, $4, 'terminated', 'unknown', $5, $6, $7, $6)`,
		sessionID, poolID, "seed-"+sessionID[:8], "handle-"+sessionID[:8],
		consumerID, releasedAt, allocatedAt)
	if err != nil {
		t.Fatalf("seeding session instance: %v", err)
	}

	_, err = d.DB.ExecContext(ctx, `
		INSERT INTO allocations
			(id, session_instance_id, consumer_id, allocation_type, priority,
			 allocated_at, released_at, duration_seconds, release_reason)
		VALUES ($1, $2, $3, 'new', 0, $4, $5, $6, 'release')`,
		uuid.NewString(), sessionID, consumerID,
		allocatedAt, releasedAt, int64(duration/time.Second))
	if err != nil {
		t.Fatalf("seeding allocation: %v", err)
	}

	return sessionID
}

// BackdateActivity moves an instance's activity clock into the past: both
// last_active_at and the open allocation's allocated_at, since idleness is
// judged on the later of the two.
func (d *TestDB) BackdateActivity(t *testing.T, sessionID string, to time.Time) {
	t.Helper()

	ctx := context.Background()
	if _, err := d.DB.ExecContext(ctx,
		`UPDATE session_instances SET last_active_at = $2 WHERE id = $1`,
		sessionID, to); err != nil {
		t.Fatalf("backdating session activity: %v", err)
	}
	if _, err := d.DB.ExecContext(ctx,
		`UPDATE allocations SET allocated_at = $2
		 WHERE session_instance_id = $1 AND released_at IS NULL`,
		sessionID, to); err != nil {
		t.Fatalf("backdating open allocation: %v", err)
	}
}

// CountOpenAllocations returns the number of unreleased allocations.
func (d *TestDB) CountOpenAllocations(t *testing.T) int {
	t.Helper()

	var n int
	err := d.DB.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM allocations WHERE released_at IS NULL`).Scan(&n)
	if err != nil {
		t.Fatalf("counting open allocations: %v", err)
	}
	return n
}

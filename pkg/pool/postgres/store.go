// Package postgres provides PostgreSQL storage for pools, session instances,
// and allocations. Claim and release run inside transactions with row locks
// (SELECT ... FOR UPDATE SKIP LOCKED) so concurrent callers never take the
// same instance and an instance never carries two open allocations.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tapforge/preview-pool/pkg/fault"
	"github.com/tapforge/preview-pool/pkg/pool"
)

const (
	defaultRetentionDays = 30
	defaultQueryCapacity = 100
	maxQueryCapacity     = 10000
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// poolColumns lists columns returned by pool SELECT queries.
var poolColumns = []string{
	"id", "platform", "device_type", "target_size", "min_size", "max_size",
	"created_at", "updated_at",
}

// sessionColumns lists columns returned by session instance SELECT queries.
var sessionColumns = []string{
	"id", "pool_id", "provider_session_id", "public_handle", "status",
	"health_status", "metadata", "last_consumer_id", "last_active_at",
	"last_health_check_at", "created_at", "terminated_at",
}

// allocationColumns lists columns returned by allocation SELECT queries.
var allocationColumns = []string{
	"id", "session_instance_id", "consumer_id", "allocation_type", "priority",
	"allocated_at", "released_at", "duration_seconds", "release_reason",
}

// Store implements pool.Store using PostgreSQL.
type Store struct {
	db            *sql.DB
	retentionDays int
	cancel        context.CancelFunc
	done          chan struct{}
}

// Config configures the PostgreSQL pool store.
type Config struct {
	// RetentionDays is how long terminated instances are kept before the
	// cleanup routine purges them. Must exceed the cost accounting window.
	RetentionDays int
}

// New creates a new PostgreSQL pool store.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	return &Store{
		db:            db,
		retentionDays: cfg.RetentionDays,
	}
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// EnsurePool inserts the pool or updates the size bounds of the existing pool
// for the same (platform, deviceType).
func (s *Store) EnsurePool(ctx context.Context, p *pool.Pool) (*pool.Pool, error) {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	query := `
		INSERT INTO pools (id, platform, device_type, target_size, min_size, max_size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (platform, device_type) DO UPDATE
		SET target_size = EXCLUDED.target_size,
		    min_size = EXCLUDED.min_size,
		    max_size = EXCLUDED.max_size,
		    updated_at = NOW()
		RETURNING id, platform, device_type, target_size, min_size, max_size, created_at, updated_at
	`
	row := s.db.QueryRowContext(ctx, query,
		id, p.Platform, p.DeviceType, p.TargetSize, p.MinSize, p.MaxSize,
	)
	stored, err := scanPool(row)
	if err != nil {
		return nil, fmt.Errorf("ensuring pool: %w", err)
	}
	return stored, nil
}

// GetPool retrieves a pool by ID. Returns nil, nil when absent.
func (s *Store) GetPool(ctx context.Context, id string) (*pool.Pool, error) {
	query := `
		SELECT id, platform, device_type, target_size, min_size, max_size, created_at, updated_at
		FROM pools
		WHERE id = $1
	`
	stored, err := scanPool(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("getting pool: %w", err)
	}
	return stored, nil
}

// FindPool retrieves the pool for (platform, deviceType). Returns nil, nil
// when absent.
func (s *Store) FindPool(ctx context.Context, platform, deviceType string) (*pool.Pool, error) {
	query := `
		SELECT id, platform, device_type, target_size, min_size, max_size, created_at, updated_at
		FROM pools
		WHERE platform = $1 AND device_type = $2
	`
	stored, err := scanPool(s.db.QueryRowContext(ctx, query, platform, deviceType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("finding pool: %w", err)
	}
	return stored, nil
}

// ListPools returns all pools.
func (s *Store) ListPools(ctx context.Context) ([]*pool.Pool, error) {
	query := `
		SELECT id, platform, device_type, target_size, min_size, max_size, created_at, updated_at
		FROM pools
		ORDER BY platform, device_type
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing pools: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pools []*pool.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pool row: %w", err)
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pool rows: %w", err)
	}
	return pools, nil
}

// UpdatePoolSizes adjusts target/min/max for an existing pool.
func (s *Store) UpdatePoolSizes(ctx context.Context, id string, target, min, max int) (*pool.Pool, error) {
	query := `
		UPDATE pools
		SET target_size = $2, min_size = $3, max_size = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING id, platform, device_type, target_size, min_size, max_size, created_at, updated_at
	`
	stored, err := scanPool(s.db.QueryRowContext(ctx, query, id, target, min, max))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFoundf("pool %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("updating pool sizes: %w", err)
	}
	return stored, nil
}

// CreateSession persists a newly provisioned instance.
func (s *Store) CreateSession(ctx context.Context, inst *pool.SessionInstance) error {
	applySessionDefaults(inst, time.Now().UTC())

	metadata, err := json.Marshal(inst.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	query := `
		INSERT INTO session_instances
		(id, pool_id, provider_session_id, public_handle, status, health_status, metadata, last_consumer_id, last_active_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		inst.ID, inst.PoolID, inst.ProviderSessionID, inst.PublicHandle,
		string(inst.Status), string(inst.HealthStatus), metadata,
		inst.LastConsumerID, inst.LastActiveAt, inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session instance: %w", err)
	}
	return nil
}

// CreateAllocatedSession persists a provisioned instance as allocated with
// its opening allocation, in one transaction.
func (s *Store) CreateAllocatedSession(ctx context.Context, inst *pool.SessionInstance, consumerID string, priority int) (*pool.Claim, error) {
	now := time.Now().UTC()
	applySessionDefaults(inst, now)
	inst.Status = pool.StatusAllocated
	inst.LastConsumerID = consumerID
	inst.LastActiveAt = now

	metadata, err := json.Marshal(inst.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	alloc := &pool.Allocation{
		ID:                uuid.NewString(),
		SessionInstanceID: inst.ID,
		ConsumerID:        consumerID,
		Type:              pool.AllocationNew,
		Priority:          priority,
		AllocatedAt:       now,
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		sessionQuery := `
			INSERT INTO session_instances
			(id, pool_id, provider_session_id, public_handle, status, health_status, metadata, last_consumer_id, last_active_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		if _, err := tx.ExecContext(ctx, sessionQuery,
			inst.ID, inst.PoolID, inst.ProviderSessionID, inst.PublicHandle,
			string(inst.Status), string(inst.HealthStatus), metadata,
			inst.LastConsumerID, inst.LastActiveAt, inst.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting session instance: %w", err)
		}

		if err := insertAllocation(ctx, tx, alloc); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &pool.Claim{Session: inst, Allocation: alloc}, nil
}

// GetSession retrieves an instance by ID. Returns nil, nil when absent.
func (s *Store) GetSession(ctx context.Context, id string) (*pool.SessionInstance, error) {
	query := `
		SELECT id, pool_id, provider_session_id, public_handle, status, health_status, metadata, last_consumer_id, last_active_at, last_health_check_at, created_at, terminated_at
		FROM session_instances
		WHERE id = $1
	`
	inst, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("getting session instance: %w", err)
	}
	return inst, nil
}

// ListSessions returns instances matching the filter, newest first.
func (s *Store) ListSessions(ctx context.Context, f pool.SessionFilter) ([]*pool.SessionInstance, error) {
	qb := psq.Select(sessionColumns...).From("session_instances")
	if f.PoolID != "" {
		qb = qb.Where(sq.Eq{"pool_id": f.PoolID})
	}
	if f.Status != "" {
		qb = qb.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.HealthStatus != "" {
		qb = qb.Where(sq.Eq{"health_status": string(f.HealthStatus)})
	}
	qb = qb.OrderBy("created_at DESC")
	if f.Limit > 0 {
		qb = qb.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		qb = qb.Offset(uint64(f.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing session instances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]*pool.SessionInstance, 0, allocCap(f.Limit))
	for rows.Next() {
		inst, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes an instance row; allocations cascade. Removing an
// absent instance is not an error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	query := `DELETE FROM session_instances WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("deleting session instance: %w", err)
	}
	return nil
}

// claimQueries select the instance a claim takes, locking the row. SKIP
// LOCKED makes concurrent claimers pass over instances another transaction
// is taking.
const (
	wakeQuery = `
		SELECT id, pool_id, provider_session_id, public_handle, status, health_status, metadata, last_consumer_id, last_active_at, last_health_check_at, created_at, terminated_at
		FROM session_instances
		WHERE pool_id = $1 AND status = 'hibernated' AND last_consumer_id = $2
		ORDER BY last_active_at DESC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	readyQuery = `
		SELECT id, pool_id, provider_session_id, public_handle, status, health_status, metadata, last_consumer_id, last_active_at, last_health_check_at, created_at, terminated_at
		FROM session_instances
		WHERE pool_id = $1 AND status = 'ready'
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
)

// AllocateFromPool atomically claims one instance for the consumer: their own
// hibernated instance first, then the oldest ready one. Returns nil, nil when
// nothing is claimable.
func (s *Store) AllocateFromPool(ctx context.Context, poolID, consumerID string, priority int) (*pool.Claim, error) {
	var claim *pool.Claim
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		inst, err := scanSession(tx.QueryRowContext(ctx, wakeQuery, poolID, consumerID))
		if errors.Is(err, sql.ErrNoRows) {
			inst, err = scanSession(tx.QueryRowContext(ctx, readyQuery, poolID))
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("selecting claimable instance: %w", err)
		}

		now := time.Now().UTC()
		updateQuery := `
			UPDATE session_instances
			SET status = 'allocated', last_consumer_id = $2, last_active_at = $3
			WHERE id = $1
		`
		if _, err := tx.ExecContext(ctx, updateQuery, inst.ID, consumerID, now); err != nil {
			return fmt.Errorf("marking instance allocated: %w", err)
		}
		inst.Status = pool.StatusAllocated
		inst.LastConsumerID = consumerID
		inst.LastActiveAt = now

		alloc := &pool.Allocation{
			ID:                uuid.NewString(),
			SessionInstanceID: inst.ID,
			ConsumerID:        consumerID,
			Type:              pool.AllocationReused,
			Priority:          priority,
			AllocatedAt:       now,
		}
		if err := insertAllocation(ctx, tx, alloc); err != nil {
			return err
		}

		claim = &pool.Claim{Session: inst, Allocation: alloc}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for an empty pool
	}
	return claim, nil
}

// ReleaseToPool closes the open allocation and returns the instance to the
// ready set, or leaves it terminating when already marked.
func (s *Store) ReleaseToPool(ctx context.Context, sessionID, reason string) (*pool.ReleaseResult, error) {
	var result *pool.ReleaseResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sessionQuery := `
			SELECT id, pool_id, provider_session_id, public_handle, status, health_status, metadata, last_consumer_id, last_active_at, last_health_check_at, created_at, terminated_at
			FROM session_instances
			WHERE id = $1
			FOR UPDATE
		`
		inst, err := scanSession(tx.QueryRowContext(ctx, sessionQuery, sessionID))
		if errors.Is(err, sql.ErrNoRows) {
			return fault.NotFoundf("session %q not found", sessionID)
		}
		if err != nil {
			return fmt.Errorf("selecting instance for release: %w", err)
		}

		allocQuery := `
			SELECT id, session_instance_id, consumer_id, allocation_type, priority, allocated_at, released_at, duration_seconds, release_reason
			FROM allocations
			WHERE session_instance_id = $1 AND released_at IS NULL
			FOR UPDATE
		`
		alloc, err := scanAllocation(tx.QueryRowContext(ctx, allocQuery, sessionID))
		if errors.Is(err, sql.ErrNoRows) {
			result = &pool.ReleaseResult{Session: inst}
			return nil
		}
		if err != nil {
			return fmt.Errorf("selecting open allocation: %w", err)
		}

		now := time.Now().UTC()
		duration := int64(now.Sub(alloc.AllocatedAt) / time.Second)
		closeQuery := `
			UPDATE allocations
			SET released_at = $2, duration_seconds = $3, release_reason = $4
			WHERE id = $1
		`
		if _, err := tx.ExecContext(ctx, closeQuery, alloc.ID, now, duration, reason); err != nil {
			return fmt.Errorf("closing allocation: %w", err)
		}
		alloc.ReleasedAt = &now
		alloc.DurationSeconds = duration
		alloc.ReleaseReason = reason

		newStatus := pool.StatusReady
		if inst.Status == pool.StatusTerminating {
			newStatus = pool.StatusTerminating
		}
		statusQuery := `
			UPDATE session_instances
			SET status = $2, last_active_at = $3
			WHERE id = $1
		`
		if _, err := tx.ExecContext(ctx, statusQuery, inst.ID, string(newStatus), now); err != nil {
			return fmt.Errorf("returning instance to pool: %w", err)
		}
		inst.Status = newStatus
		inst.LastActiveAt = now

		result = &pool.ReleaseResult{Session: inst, Allocation: alloc}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ComputePoolMetrics reads status counts and recent demand in one read-only
// transaction.
func (s *Store) ComputePoolMetrics(ctx context.Context, poolID string, demandWindow time.Duration) (*pool.Metrics, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("beginning metrics transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	poolQuery := `
		SELECT id, platform, device_type, target_size, min_size, max_size, created_at, updated_at
		FROM pools
		WHERE id = $1
	`
	p, err := scanPool(tx.QueryRowContext(ctx, poolQuery, poolID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFoundf("pool %q not found", poolID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting pool for metrics: %w", err)
	}

	m, err := metricsInTx(ctx, tx, p, demandWindow)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing metrics transaction: %w", err)
	}
	return m, nil
}

// metricsInTx reads the pool's status counts and recent allocation demand
// inside an open transaction.
func metricsInTx(ctx context.Context, tx *sql.Tx, p *pool.Pool, demandWindow time.Duration) (*pool.Metrics, error) {
	now := time.Now().UTC()
	m := &pool.Metrics{
		PoolID:     p.ID,
		Platform:   p.Platform,
		DeviceType: p.DeviceType,
		TargetSize: p.TargetSize,
		MinSize:    p.MinSize,
		MaxSize:    p.MaxSize,
		ComputedAt: now,
	}

	countsQuery := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'ready'),
			COUNT(*) FILTER (WHERE status = 'allocated'),
			COUNT(*) FILTER (WHERE status = 'hibernated'),
			COUNT(*) FILTER (WHERE status = 'terminating')
		FROM session_instances
		WHERE pool_id = $1
	`
	err := tx.QueryRowContext(ctx, countsQuery, p.ID).Scan(
		&m.ReadyCount, &m.AllocatedCount, &m.HibernatedCount, &m.TerminatingCount,
	)
	if err != nil {
		return nil, fmt.Errorf("counting instances: %w", err)
	}

	demandQuery := `
		SELECT COUNT(*)
		FROM allocations a
		JOIN session_instances s ON s.id = a.session_instance_id
		WHERE s.pool_id = $1 AND a.allocated_at > $2
	`
	err = tx.QueryRowContext(ctx, demandQuery, p.ID, now.Add(-demandWindow)).Scan(&m.RecentDemand)
	if err != nil {
		return nil, fmt.Errorf("counting recent demand: %w", err)
	}
	return m, nil
}

// AutoScalePool decides one scaling action for the pool in a single
// transaction. The pool row is locked FOR UPDATE so concurrent scale calls
// on the same pool serialize, and a scale-down marks its surplus instances
// before the lock is released. Provisioning for a scale-up happens at the
// caller, outside the transaction.
func (s *Store) AutoScalePool(ctx context.Context, poolID string, policy pool.ScalePolicy) (*pool.ScaleDecision, error) {
	var decision *pool.ScaleDecision
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		lockQuery := `
			SELECT id, platform, device_type, target_size, min_size, max_size, created_at, updated_at
			FROM pools
			WHERE id = $1
			FOR UPDATE
		`
		p, err := scanPool(tx.QueryRowContext(ctx, lockQuery, poolID))
		if errors.Is(err, sql.ErrNoRows) {
			return fault.NotFoundf("pool %q not found", poolID)
		}
		if err != nil {
			return fmt.Errorf("locking pool for scaling: %w", err)
		}

		m, err := metricsInTx(ctx, tx, p, policy.DemandWindow)
		if err != nil {
			return err
		}
		decision = &pool.ScaleDecision{PoolID: p.ID, Action: pool.ScaleNone, Metrics: m}

		if m.ReadyCount < p.TargetSize {
			if m.LiveCount() < p.MaxSize {
				decision.Action = pool.ScaleUp
			}
			return nil
		}
		if m.ReadyCount <= p.TargetSize+policy.ScaleDownMargin {
			return nil
		}

		markQuery := `
			UPDATE session_instances
			SET status = 'terminating'
			WHERE id IN (
				SELECT id FROM session_instances
				WHERE pool_id = $1 AND status = 'ready' AND last_active_at < $2
				ORDER BY last_active_at
				LIMIT $3
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id
		`
		idleCutoff := m.ComputedAt.Add(-policy.IdleThreshold)
		rows, err := tx.QueryContext(ctx, markQuery, poolID, idleCutoff, m.ReadyCount-p.TargetSize)
		if err != nil {
			return fmt.Errorf("marking excess instances: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scanning marked instance: %w", err)
			}
			decision.MarkedTerminating = append(decision.MarkedTerminating, id)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating marked instances: %w", err)
		}
		if len(decision.MarkedTerminating) > 0 {
			decision.Action = pool.ScaleDown
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// MarkUnhealthyTerminating moves unhealthy ready and hibernated instances of
// the pool to terminating.
func (s *Store) MarkUnhealthyTerminating(ctx context.Context, poolID string) ([]string, error) {
	query := `
		UPDATE session_instances
		SET status = 'terminating'
		WHERE id IN (
			SELECT id FROM session_instances
			WHERE pool_id = $1 AND health_status = 'unhealthy' AND status IN ('ready', 'hibernated')
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`
	return s.collectIDs(ctx, "marking unhealthy instances", query, poolID)
}

// collectIDs runs a RETURNING id statement and gathers the IDs.
func (s *Store) collectIDs(ctx context.Context, action, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scanning id: %w", action, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterating ids: %w", action, err)
	}
	return ids, nil
}

// MarkTerminating moves a single instance to terminating.
func (s *Store) MarkTerminating(ctx context.Context, sessionID string) error {
	query := `
		UPDATE session_instances
		SET status = 'terminating'
		WHERE id = $1 AND status <> 'terminated'
	`
	res, err := s.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("marking instance terminating: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking terminating update: %w", err)
	}
	if affected == 0 {
		inst, err := s.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if inst == nil {
			return fault.NotFoundf("session %q not found", sessionID)
		}
		return fault.Validationf("session %q is already terminated", sessionID)
	}
	return nil
}

// VerifyTerminable re-checks that the instance is terminating with no open
// allocation.
func (s *Store) VerifyTerminable(ctx context.Context, sessionID string) (bool, error) {
	query := `
		SELECT s.status, COUNT(a.id) FILTER (WHERE a.released_at IS NULL)
		FROM session_instances s
		LEFT JOIN allocations a ON a.session_instance_id = s.id
		WHERE s.id = $1
		GROUP BY s.id, s.status
	`
	var status string
	var openCount int
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&status, &openCount)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fault.NotFoundf("session %q not found", sessionID)
	}
	if err != nil {
		return false, fmt.Errorf("verifying terminability: %w", err)
	}
	return pool.Status(status) == pool.StatusTerminating && openCount == 0, nil
}

// MarkTerminated finalizes a termination, stamping TerminatedAt.
func (s *Store) MarkTerminated(ctx context.Context, sessionID string) error {
	query := `
		UPDATE session_instances
		SET status = 'terminated', terminated_at = $2
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("marking instance terminated: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking terminated update: %w", err)
	}
	if affected == 0 {
		return fault.NotFoundf("session %q not found", sessionID)
	}
	return nil
}

// HibernateIdleSessions parks allocated instances whose activity is older
// than idleCutoff: the open allocation is closed and the instance becomes
// hibernated for its last consumer, all in one statement.
func (s *Store) HibernateIdleSessions(ctx context.Context, idleCutoff time.Time) (int, error) {
	query := `
		WITH idle AS (
			SELECT s.id AS session_id, a.id AS allocation_id, a.consumer_id, a.allocated_at
			FROM session_instances s
			JOIN allocations a ON a.session_instance_id = s.id AND a.released_at IS NULL
			WHERE s.status = 'allocated'
			  AND GREATEST(s.last_active_at, a.allocated_at) < $1
			FOR UPDATE OF s, a SKIP LOCKED
		),
		closed AS (
			UPDATE allocations AS al
			SET released_at = $2,
			    duration_seconds = EXTRACT(EPOCH FROM $2 - al.allocated_at)::bigint,
			    release_reason = 'hibernate'
			FROM idle
			WHERE al.id = idle.allocation_id
			RETURNING idle.session_id, idle.consumer_id
		)
		UPDATE session_instances AS si
		SET status = 'hibernated', last_consumer_id = closed.consumer_id
		FROM closed
		WHERE si.id = closed.session_id
	`
	res, err := s.db.ExecContext(ctx, query, idleCutoff, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("hibernating idle instances: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting hibernated instances: %w", err)
	}
	return int(affected), nil
}

// StaleSessions returns live instances not probed since the cutoff, stalest
// first.
func (s *Store) StaleSessions(ctx context.Context, poolID string, cutoff time.Time, limit int) ([]*pool.SessionInstance, error) {
	qb := psq.Select(sessionColumns...).From("session_instances").
		Where(sq.Eq{"status": []string{
			string(pool.StatusReady), string(pool.StatusAllocated), string(pool.StatusHibernated),
		}}).
		Where(sq.Or{
			sq.Eq{"last_health_check_at": nil},
			sq.Lt{"last_health_check_at": cutoff},
		}).
		OrderBy("last_health_check_at ASC NULLS FIRST")
	if poolID != "" {
		qb = qb.Where(sq.Eq{"pool_id": poolID})
	}
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building stale session query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing stale instances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]*pool.SessionInstance, 0, allocCap(limit))
	for rows.Next() {
		inst, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning stale session row: %w", err)
		}
		sessions = append(sessions, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stale session rows: %w", err)
	}
	return sessions, nil
}

// SetSessionHealth records a probe result and check time.
func (s *Store) SetSessionHealth(ctx context.Context, sessionID string, hs pool.HealthStatus, checkedAt time.Time) error {
	query := `
		UPDATE session_instances
		SET health_status = $2, last_health_check_at = $3
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, sessionID, string(hs), checkedAt)
	if err != nil {
		return fmt.Errorf("updating session health: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking health update: %w", err)
	}
	if affected == 0 {
		return fault.NotFoundf("session %q not found", sessionID)
	}
	return nil
}

// ListAllocations returns allocations matching the filter, newest first.
func (s *Store) ListAllocations(ctx context.Context, f pool.AllocationFilter) ([]*pool.Allocation, error) {
	qb := psq.Select(allocationColumns...).From("allocations")
	if f.SessionInstanceID != "" {
		qb = qb.Where(sq.Eq{"session_instance_id": f.SessionInstanceID})
	}
	if f.ConsumerID != "" {
		qb = qb.Where(sq.Eq{"consumer_id": f.ConsumerID})
	}
	if f.OpenOnly {
		qb = qb.Where(sq.Eq{"released_at": nil})
	}
	qb = qb.OrderBy("allocated_at DESC")
	if f.Limit > 0 {
		qb = qb.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		qb = qb.Offset(uint64(f.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building allocation query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing allocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	allocations := make([]*pool.Allocation, 0, allocCap(f.Limit))
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning allocation row: %w", err)
		}
		allocations = append(allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating allocation rows: %w", err)
	}
	return allocations, nil
}

// SumClosedAllocationSeconds totals closed allocation durations for the
// instance within [from, to).
func (s *Store) SumClosedAllocationSeconds(ctx context.Context, sessionID string, from, to time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(duration_seconds), 0)
		FROM allocations
		WHERE session_instance_id = $1
		  AND released_at IS NOT NULL
		  AND released_at >= $2 AND released_at < $3
	`
	var total int64
	if err := s.db.QueryRowContext(ctx, query, sessionID, from, to).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing closed allocations: %w", err)
	}
	return total, nil
}

// SessionsWithClosedAllocations lists distinct instances with an allocation
// closed within [from, to).
func (s *Store) SessionsWithClosedAllocations(ctx context.Context, from, to time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT session_instance_id
		FROM allocations
		WHERE released_at IS NOT NULL
		  AND released_at >= $1 AND released_at < $2
		ORDER BY session_instance_id
	`
	return s.collectIDs(ctx, "listing swept instances", query, from, to)
}

// Cleanup purges terminated instances older than the retention period.
// Allocation and cost history for them cascades away with the row.
func (s *Store) Cleanup(ctx context.Context) error {
	query := `
		DELETE FROM session_instances
		WHERE status = 'terminated'
		  AND terminated_at < NOW() - ($1 || ' days')::interval
	`
	if _, err := s.db.ExecContext(ctx, query, s.retentionDays); err != nil {
		return fmt.Errorf("cleaning up terminated instances: %w", err)
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically purges
// old terminated instances. The goroutine is stopped when Close is called.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Cleanup(ctx); err != nil {
					slog.Warn("pool cleanup failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// applySessionDefaults fills identity and timestamps on a new instance.
func applySessionDefaults(inst *pool.SessionInstance, now time.Time) {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.Status == "" {
		inst.Status = pool.StatusReady
	}
	if inst.HealthStatus == "" {
		inst.HealthStatus = pool.HealthUnknown
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	if inst.LastActiveAt.IsZero() {
		inst.LastActiveAt = inst.CreatedAt
	}
}

// insertAllocation writes an allocation row inside a transaction. The
// partial unique index on open allocations is the hard backstop for the
// single-claim invariant; tripping it means the instance is already held.
func insertAllocation(ctx context.Context, tx *sql.Tx, a *pool.Allocation) error {
	query := `
		INSERT INTO allocations
		(id, session_instance_id, consumer_id, allocation_type, priority, allocated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := tx.ExecContext(ctx, query,
		a.ID, a.SessionInstanceID, a.ConsumerID, string(a.Type), a.Priority, a.AllocatedAt,
	)
	if isUniqueViolation(err) {
		return fault.Validationf("instance %s already has an open allocation", a.SessionInstanceID)
	}
	if err != nil {
		return fmt.Errorf("inserting allocation: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique violation
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPool scans one pool row.
func scanPool(row rowScanner) (*pool.Pool, error) {
	var p pool.Pool
	err := row.Scan(&p.ID, &p.Platform, &p.DeviceType, &p.TargetSize, &p.MinSize, &p.MaxSize, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// scanSession scans one session instance row.
func scanSession(row rowScanner) (*pool.SessionInstance, error) {
	var inst pool.SessionInstance
	var status, healthStatus string
	var metadata []byte
	var lastHealthCheckAt, terminatedAt sql.NullTime

	err := row.Scan(
		&inst.ID, &inst.PoolID, &inst.ProviderSessionID, &inst.PublicHandle,
		&status, &healthStatus, &metadata, &inst.LastConsumerID,
		&inst.LastActiveAt, &lastHealthCheckAt, &inst.CreatedAt, &terminatedAt,
	)
	if err != nil {
		return nil, err
	}

	inst.Status = pool.Status(status)
	inst.HealthStatus = pool.HealthStatus(healthStatus)
	inst.Metadata = make(map[string]any)
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &inst.Metadata)
	}
	if lastHealthCheckAt.Valid {
		t := lastHealthCheckAt.Time
		inst.LastHealthCheckAt = &t
	}
	if terminatedAt.Valid {
		t := terminatedAt.Time
		inst.TerminatedAt = &t
	}
	return &inst, nil
}

// scanAllocation scans one allocation row.
func scanAllocation(row rowScanner) (*pool.Allocation, error) {
	var a pool.Allocation
	var allocType string
	var releasedAt sql.NullTime
	var reason sql.NullString

	err := row.Scan(
		&a.ID, &a.SessionInstanceID, &a.ConsumerID, &allocType, &a.Priority,
		&a.AllocatedAt, &releasedAt, &a.DurationSeconds, &reason,
	)
	if err != nil {
		return nil, err
	}

	a.Type = pool.AllocationType(allocType)
	if releasedAt.Valid {
		t := releasedAt.Time
		a.ReleasedAt = &t
	}
	a.ReleaseReason = reason.String
	return &a, nil
}

// allocCap bounds slice preallocation for list queries.
func allocCap(limit int) int {
	if limit > 0 && limit < maxQueryCapacity {
		return limit
	}
	return defaultQueryCapacity
}

// Verify interface compliance.
var _ pool.Store = (*Store)(nil)

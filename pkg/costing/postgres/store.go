// Package postgres provides PostgreSQL storage for cost records.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tapforge/preview-pool/pkg/costing"
)

const defaultQueryCapacity = 100

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// costColumns lists columns returned by cost record SELECT queries.
var costColumns = []string{
	"id", "session_instance_id", "period_start", "period_end",
	"runtime_seconds", "runtime_minutes", "cost_usd", "breakdown", "created_at",
}

// Store implements costing.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL cost store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert writes a record. The unique (session_instance_id, period_start,
// period_end) constraint makes re-billing a window a no-op, reported as
// false.
func (s *Store) Insert(ctx context.Context, rec *costing.CostRecord) (bool, error) {
	breakdown, err := json.Marshal(rec.Breakdown)
	if err != nil {
		breakdown = []byte("{}")
	}

	query := `
		INSERT INTO cost_records
		(id, session_instance_id, period_start, period_end, runtime_seconds, runtime_minutes, cost_usd, breakdown, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_instance_id, period_start, period_end) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.SessionInstanceID, rec.PeriodStart, rec.PeriodEnd,
		rec.RuntimeSeconds, rec.RuntimeMinutes, rec.CostUSD, breakdown, rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting cost record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking cost insert: %w", err)
	}
	return affected > 0, nil
}

// List returns records matching the filter, newest period first.
func (s *Store) List(ctx context.Context, f costing.Filter) ([]*costing.CostRecord, error) {
	qb := psq.Select(costColumns...).From("cost_records")
	if f.SessionInstanceID != "" {
		qb = qb.Where(sq.Eq{"session_instance_id": f.SessionInstanceID})
	}
	if !f.From.IsZero() {
		qb = qb.Where(sq.GtOrEq{"period_start": f.From})
	}
	if !f.To.IsZero() {
		qb = qb.Where(sq.LtOrEq{"period_end": f.To})
	}
	qb = qb.OrderBy("period_start DESC", "session_instance_id")
	if f.Limit > 0 {
		qb = qb.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		qb = qb.Offset(uint64(f.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building cost query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing cost records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	capacity := defaultQueryCapacity
	if f.Limit > 0 && f.Limit < capacity {
		capacity = f.Limit
	}
	records := make([]*costing.CostRecord, 0, capacity)
	for rows.Next() {
		rec, err := scanCostRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cost row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cost rows: %w", err)
	}
	return records, nil
}

// Totals aggregates records whose period overlaps [from, to). Zero bounds
// leave that side open.
func (s *Store) Totals(ctx context.Context, from, to time.Time) (*costing.Totals, error) {
	qb := psq.Select(
		"COUNT(*)",
		"COALESCE(SUM(runtime_seconds), 0)",
		"COALESCE(SUM(runtime_minutes), 0)",
		"COALESCE(SUM(cost_usd), 0)",
	).From("cost_records")
	if !from.IsZero() {
		qb = qb.Where(sq.Gt{"period_end": from})
	}
	if !to.IsZero() {
		qb = qb.Where(sq.Lt{"period_start": to})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building totals query: %w", err)
	}

	var t costing.Totals
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&t.Records, &t.RuntimeSeconds, &t.RuntimeMinutes, &t.CostUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("totaling cost records: %w", err)
	}
	return &t, nil
}

// Close is a no-op; the database handle is owned by the platform.
func (s *Store) Close() error {
	return nil
}

func scanCostRecord(rows *sql.Rows) (*costing.CostRecord, error) {
	var (
		rec       costing.CostRecord
		breakdown []byte
	)
	err := rows.Scan(
		&rec.ID, &rec.SessionInstanceID, &rec.PeriodStart, &rec.PeriodEnd,
		&rec.RuntimeSeconds, &rec.RuntimeMinutes, &rec.CostUSD, &breakdown, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(breakdown) > 0 {
		rec.Breakdown = make(map[string]float64)
		_ = json.Unmarshal(breakdown, &rec.Breakdown)
	}
	return &rec, nil
}

// Verify interface compliance.
var _ costing.Store = (*Store)(nil)

// Package postgres provides PostgreSQL storage for project rows.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tapforge/preview-pool/pkg/project"
)

const defaultListLimit = 100

// projectColumns lists columns returned by project SELECT queries.
var projectColumns = []string{
	"id", "owner_id", "name", "platform", "created_at", "updated_at",
}

// Store implements project.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL project store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get retrieves a project by ID.
func (s *Store) Get(ctx context.Context, id string) (*project.Project, error) {
	query := `
		SELECT id, owner_id, name, platform, created_at, updated_at
		FROM projects
		WHERE id = $1
	`
	p, err := scanProject(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absent project is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return p, nil
}

// Upsert inserts the project or updates the existing row with the same ID.
func (s *Store) Upsert(ctx context.Context, p *project.Project) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO projects (id, owner_id, name, platform, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id,
		    name = EXCLUDED.name,
		    platform = EXCLUDED.platform,
		    updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, p.ID, p.OwnerID, p.Name, p.Platform, now); err != nil {
		return fmt.Errorf("upserting project: %w", err)
	}
	return nil
}

// List returns projects, newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*project.Project, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
		SELECT id, owner_id, name, platform, created_at, updated_at
		FROM projects
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	projects := make([]*project.Project, 0, limit)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating project rows: %w", err)
	}
	return projects, nil
}

// Close is a no-op; the database handle is owned by the platform.
func (s *Store) Close() error {
	return nil
}

// rowScanner abstracts sql.Row and sql.Rows for the scan helper.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*project.Project, error) {
	var p project.Project
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Platform, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Verify interface compliance.
var _ project.Store = (*Store)(nil)

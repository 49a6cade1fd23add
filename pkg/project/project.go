// Package project resolves project ownership for allocation requests.
//
// Project rows are created and maintained by the app backend; this service
// reads them to map an incoming project ID to the consumer whose quota and
// allocations the session is charged to.
package project

import (
	"context"
	"fmt"
	"time"

	"github.com/tapforge/preview-pool/pkg/fault"
)

// Project is one buildable app owned by a single consumer.
type Project struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes project rows.
type Store interface {
	// Get retrieves a project by ID. Returns nil, nil when absent.
	Get(ctx context.Context, id string) (*Project, error)

	// Upsert inserts the project or updates the existing row with the
	// same ID.
	Upsert(ctx context.Context, p *Project) error

	// List returns projects, newest first.
	List(ctx context.Context, limit, offset int) ([]*Project, error)

	// Close releases store resources.
	Close() error
}

// Resolver maps a project to the consumer charged for its sessions.
type Resolver struct {
	store Store
}

// NewResolver creates a resolver over the project store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the project row. The owner is the consumer charged for
// the project's sessions; the stored platform is the default when a request
// does not name one.
func (r *Resolver) Resolve(ctx context.Context, projectID string) (*Project, error) {
	if projectID == "" {
		return nil, fault.Validationf("projectId is required")
	}

	p, err := r.store.Get(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("resolving project %s: %w", projectID, err)
	}
	if p == nil {
		return nil, fault.NotFoundf("project %q not found", projectID)
	}
	return p, nil
}

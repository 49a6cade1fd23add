package platform

import (
	"database/sql"
	"log/slog"

	"github.com/tapforge/preview-pool/pkg/auth"
	"github.com/tapforge/preview-pool/pkg/costing"
	"github.com/tapforge/preview-pool/pkg/pool"
	"github.com/tapforge/preview-pool/pkg/project"
	"github.com/tapforge/preview-pool/pkg/provider"
	"github.com/tapforge/preview-pool/pkg/quota"
	"github.com/tapforge/preview-pool/pkg/schedule"
)

// Options carries injectable dependencies for New. Nil fields are built
// from configuration. Injected resources are not closed by the platform;
// what the platform builds, it owns.
type Options struct {
	Config        *Config
	Logger        *slog.Logger
	DB            *sql.DB
	Store         pool.Store
	Provider      provider.Adapter
	QuotaStore    quota.Store
	CostStore     costing.Store
	ProjectStore  project.Store
	Authenticator auth.Authenticator
	Locker        schedule.Locker
}

// Option customizes platform construction.
type Option func(*Options)

// WithConfig supplies a parsed configuration, bypassing file loading.
func WithConfig(cfg *Config) Option {
	return func(o *Options) { o.Config = cfg }
}

// WithLogger supplies the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithDB supplies an open database handle. The caller keeps ownership;
// Close will not close it.
func WithDB(db *sql.DB) Option {
	return func(o *Options) { o.DB = db }
}

// WithStore supplies the pool store.
func WithStore(store pool.Store) Option {
	return func(o *Options) { o.Store = store }
}

// WithProvider supplies the session provider adapter.
func WithProvider(adapter provider.Adapter) Option {
	return func(o *Options) { o.Provider = adapter }
}

// WithQuotaStore supplies the quota store.
func WithQuotaStore(store quota.Store) Option {
	return func(o *Options) { o.QuotaStore = store }
}

// WithCostStore supplies the cost record store.
func WithCostStore(store costing.Store) Option {
	return func(o *Options) { o.CostStore = store }
}

// WithProjectStore supplies the project bindings store.
func WithProjectStore(store project.Store) Option {
	return func(o *Options) { o.ProjectStore = store }
}

// WithAuthenticator supplies the request authenticator, replacing the
// chain built from config.
func WithAuthenticator(authn auth.Authenticator) Option {
	return func(o *Options) { o.Authenticator = authn }
}

// WithLocker supplies the scheduler's job lock.
func WithLocker(locker schedule.Locker) Option {
	return func(o *Options) { o.Locker = locker }
}

package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/tapforge/preview-pool/pkg/allocator"
	"github.com/tapforge/preview-pool/pkg/auth"
	"github.com/tapforge/preview-pool/pkg/costing"
	costingpostgres "github.com/tapforge/preview-pool/pkg/costing/postgres"
	"github.com/tapforge/preview-pool/pkg/database/migrate"
	"github.com/tapforge/preview-pool/pkg/dispatch"
	"github.com/tapforge/preview-pool/pkg/health"
	"github.com/tapforge/preview-pool/pkg/metrics"
	"github.com/tapforge/preview-pool/pkg/monitor"
	"github.com/tapforge/preview-pool/pkg/pool"
	poolpostgres "github.com/tapforge/preview-pool/pkg/pool/postgres"
	"github.com/tapforge/preview-pool/pkg/project"
	projectpostgres "github.com/tapforge/preview-pool/pkg/project/postgres"
	"github.com/tapforge/preview-pool/pkg/provider"
	"github.com/tapforge/preview-pool/pkg/quota"
	quotapostgres "github.com/tapforge/preview-pool/pkg/quota/postgres"
	"github.com/tapforge/preview-pool/pkg/scaler"
	"github.com/tapforge/preview-pool/pkg/schedule"
)

// Platform wires the preview pool service together: stores, the provider
// adapter, the control components, the scheduler, and authentication.
type Platform struct {
	config *Config
	logger *slog.Logger

	lifecycle *Lifecycle

	db *sql.DB

	store    pool.Store
	provider provider.Adapter
	quotas   quota.Store
	costs    costing.Store
	projects project.Store

	enforcer   *quota.Enforcer
	accountant *costing.Accountant
	resolver   *project.Resolver

	allocator  *allocator.Allocator
	monitor    *monitor.Monitor
	scaler     *scaler.Scaler
	dispatcher *dispatch.Dispatcher
	scheduler  *schedule.Scheduler

	authenticator auth.Authenticator
	checker       *health.Checker

	// owned tracks resources the platform built and must close, in build
	// order. Injected resources never land here.
	owned []ownedResource
}

type ownedResource struct {
	name  string
	close func() error
}

// New builds a platform. The configuration comes in via WithConfig; every
// other dependency defaults from it and can be overridden with options.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	if options.Config == nil {
		return nil, errors.New("platform: configuration is required")
	}
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Platform{
		config:    options.Config,
		logger:    logger,
		lifecycle: NewLifecycle(logger),
	}

	if err := p.initDatabase(options); err != nil {
		return nil, err
	}
	p.initStores(options)
	if err := p.initProvider(options); err != nil {
		_ = p.Close()
		return nil, err
	}
	p.initComponents()
	p.initAuth(options)
	if err := p.initScheduler(options); err != nil {
		_ = p.Close()
		return nil, err
	}
	p.initHealth()
	p.registerLifecycle()

	return p, nil
}

func (p *Platform) initDatabase(opts *Options) error {
	if opts.DB != nil {
		p.db = opts.DB
		return nil
	}
	if p.config.Database.DSN == "" {
		return nil
	}

	db, err := sql.Open("postgres", p.config.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(p.config.Database.MaxOpenConns)
	p.db = db
	p.owned = append(p.owned, ownedResource{"database", db.Close})
	return nil
}

// initStores picks the backend per store: injected, else PostgreSQL when a
// database is configured, else in-memory.
func (p *Platform) initStores(opts *Options) {
	switch {
	case opts.Store != nil:
		p.store = opts.Store
	case p.db != nil:
		p.store = poolpostgres.New(p.db, poolpostgres.Config{RetentionDays: p.config.Database.RetentionDays})
		p.owned = append(p.owned, ownedResource{"pool store", p.store.Close})
	default:
		p.store = pool.NewMemoryStore()
		p.owned = append(p.owned, ownedResource{"pool store", p.store.Close})
	}

	switch {
	case opts.QuotaStore != nil:
		p.quotas = opts.QuotaStore
	case p.db != nil:
		p.quotas = quotapostgres.New(p.db)
		p.owned = append(p.owned, ownedResource{"quota store", p.quotas.Close})
	default:
		p.quotas = quota.NewMemoryStore()
		p.owned = append(p.owned, ownedResource{"quota store", p.quotas.Close})
	}

	switch {
	case opts.CostStore != nil:
		p.costs = opts.CostStore
	case p.db != nil:
		p.costs = costingpostgres.New(p.db)
		p.owned = append(p.owned, ownedResource{"cost store", p.costs.Close})
	default:
		p.costs = costing.NewMemoryStore()
		p.owned = append(p.owned, ownedResource{"cost store", p.costs.Close})
	}

	switch {
	case opts.ProjectStore != nil:
		p.projects = opts.ProjectStore
	case p.db != nil:
		p.projects = projectpostgres.New(p.db)
		p.owned = append(p.owned, ownedResource{"project store", p.projects.Close})
	default:
		p.projects = project.NewMemoryStore()
		p.owned = append(p.owned, ownedResource{"project store", p.projects.Close})
	}
}

func (p *Platform) initProvider(opts *Options) error {
	if opts.Provider != nil {
		p.provider = opts.Provider
		return nil
	}

	cfg := p.config.Provider
	kind := cfg.Kind
	if kind == "" {
		if cfg.BaseURL != "" {
			kind = "http"
		} else {
			kind = "noop"
		}
	}

	switch kind {
	case "http":
		adapter, err := provider.NewHTTP(provider.Config{
			BaseURL:           cfg.BaseURL,
			PublicBaseURL:     cfg.PublicBaseURL,
			Token:             cfg.Token,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			Observer:          metrics.ProviderObserver{},
		})
		if err != nil {
			return fmt.Errorf("building provider adapter: %w", err)
		}
		p.provider = adapter
	default:
		p.provider = provider.NewNoop(cfg.BaseURL)
	}
	return nil
}

func (p *Platform) initComponents() {
	cfg := p.config

	p.enforcer = quota.NewEnforcer(p.quotas, quota.Config{
		Enabled:             cfg.Quota.Enabled,
		DefaultLimitMinutes: cfg.Quota.DefaultLimitMinutes,
	})
	p.accountant = costing.NewAccountant(p.store, p.costs, costing.Config{
		Window:           cfg.Costing.Window,
		RatePerMinuteUSD: cfg.Costing.RatePerMinuteUSD,
	}, p.logger)
	p.resolver = project.NewResolver(p.projects)

	p.allocator = allocator.New(p.store, p.provider, allocator.Config{
		Quota:   p.enforcer,
		Usage:   p.enforcer,
		Sweeper: p.accountant,
	}, p.logger)
	p.monitor = monitor.New(p.store, p.provider, monitor.Config{
		StalenessWindow: cfg.Monitor.StalenessWindow,
		BatchLimit:      cfg.Monitor.BatchLimit,
		ProbeTimeout:    cfg.Monitor.ProbeTimeout,
	}, p.logger)
	p.scaler = scaler.New(p.store, p.provider, scaler.Config{
		DemandWindow:    cfg.Scaler.DemandWindow,
		IdleThreshold:   cfg.Scaler.IdleThreshold,
		ScaleDownMargin: cfg.Scaler.ScaleDownMargin,
		HibernateAfter:  cfg.Scaler.HibernateAfter,
		ReapLimit:       cfg.Scaler.ReapLimit,
	}, p.logger)

	p.dispatcher = dispatch.New(dispatch.Deps{
		Allocator: p.allocator,
		Monitor:   p.monitor,
		Scaler:    p.scaler,
		Store:     p.store,
		Projects:  p.resolver,
	}, dispatch.Config{DemandWindow: cfg.Dispatch.DemandWindow}, p.logger)
}

// initAuth builds the authenticator chain: API keys, then service tokens,
// then anonymous when allowed. Validate has already guaranteed at least
// one link.
func (p *Platform) initAuth(opts *Options) {
	if opts.Authenticator != nil {
		p.authenticator = opts.Authenticator
		return
	}

	cfg := p.config.Auth
	var chain auth.Chain
	if len(cfg.APIKeys) > 0 {
		keys := make([]auth.KeyEntry, len(cfg.APIKeys))
		for i, k := range cfg.APIKeys {
			keys[i] = auth.KeyEntry{Name: k.Name, Hash: k.Hash, Roles: k.Roles}
		}
		chain = append(chain, auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{Keys: keys}))
	}
	if cfg.ServiceTokens.Secret != "" {
		chain = append(chain, auth.NewServiceTokenAuthenticator(auth.ServiceTokenConfig{
			Secret:          []byte(cfg.ServiceTokens.Secret),
			AllowedServices: cfg.ServiceTokens.AllowedServices,
		}))
	}
	if cfg.AllowAnonymous {
		chain = append(chain, auth.NoopAuthenticator{})
	}
	p.authenticator = chain
}

func (p *Platform) initScheduler(opts *Options) error {
	if p.config.Schedule.Disabled {
		return nil
	}

	locker := opts.Locker
	if locker == nil && p.db != nil {
		locker = schedule.NewPGLocker(p.db)
	}

	sched, err := schedule.New(schedule.Deps{
		Monitor:    p.monitor,
		Scaler:     p.scaler,
		Accountant: p.accountant,
	}, schedule.Config{
		HealthSpec:    p.config.Schedule.HealthSpec,
		ScaleSpec:     p.config.Schedule.ScaleSpec,
		HibernateSpec: p.config.Schedule.HibernateSpec,
		CostSpec:      p.config.Schedule.CostSpec,
		JobTimeout:    p.config.Schedule.JobTimeout,
	}, locker, p.logger)
	if err != nil {
		return fmt.Errorf("building scheduler: %w", err)
	}
	p.scheduler = sched
	return nil
}

func (p *Platform) initHealth() {
	var probes []health.Probe
	if p.db != nil {
		db := p.db
		probes = append(probes, func(ctx context.Context) error {
			return db.PingContext(ctx)
		})
	}
	p.checker = health.NewChecker(probes...)
}

// registerLifecycle orders startup: database, configured pools, scheduler,
// ready. Stop runs the reverse, so the service drains before the scheduler
// quits.
func (p *Platform) registerLifecycle() {
	if p.db != nil {
		p.lifecycle.Register("database", p.startDatabase, nil)
	}
	p.lifecycle.Register("pools", p.ensurePools, nil)
	if p.scheduler != nil {
		p.lifecycle.Register("scheduler",
			func(context.Context) error {
				p.scheduler.Start()
				return nil
			},
			p.scheduler.Stop,
		)
	}
	p.lifecycle.Register("ready",
		func(context.Context) error {
			p.checker.SetReady()
			return nil
		},
		func(context.Context) error {
			p.checker.SetDraining()
			return nil
		},
	)
}

func (p *Platform) startDatabase(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	if p.config.Database.SkipMigrations {
		return nil
	}
	if err := migrate.Run(p.db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

func (p *Platform) ensurePools(ctx context.Context) error {
	for _, def := range p.config.Pools {
		stored, err := p.store.EnsurePool(ctx, &pool.Pool{
			Platform:   def.Platform,
			DeviceType: def.DeviceType,
			TargetSize: def.TargetSize,
			MinSize:    def.MinSize,
			MaxSize:    def.MaxSize,
		})
		if err != nil {
			return fmt.Errorf("ensuring pool %s/%s: %w", def.Platform, def.DeviceType, err)
		}
		p.logger.Info("platform: pool ensured",
			"pool_id", stored.ID,
			"platform", stored.Platform,
			"device_type", stored.DeviceType,
			"target", stored.TargetSize)
	}
	return nil
}

// Start brings the platform up. It is not restartable after Stop.
func (p *Platform) Start(ctx context.Context) error {
	return p.lifecycle.Start(ctx)
}

// Stop drains the platform in reverse start order. Stores and the database
// stay open until Close.
func (p *Platform) Stop(ctx context.Context) error {
	return p.lifecycle.Stop(ctx)
}

// Close releases resources the platform built, newest first. Injected
// resources are the caller's to close.
func (p *Platform) Close() error {
	var errs []error
	for i := len(p.owned) - 1; i >= 0; i-- {
		r := p.owned[i]
		if err := r.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", r.name, err))
		}
	}
	p.owned = nil
	return errors.Join(errs...)
}

// Config returns the active configuration.
func (p *Platform) Config() *Config {
	return p.config
}

// Logger returns the platform logger.
func (p *Platform) Logger() *slog.Logger {
	return p.logger
}

// DB returns the database handle, nil in memory mode.
func (p *Platform) DB() *sql.DB {
	return p.db
}

// Store returns the pool store.
func (p *Platform) Store() pool.Store {
	return p.store
}

// Provider returns the session provider adapter.
func (p *Platform) Provider() provider.Adapter {
	return p.provider
}

// QuotaStore returns the quota store.
func (p *Platform) QuotaStore() quota.Store {
	return p.quotas
}

// CostStore returns the cost record store.
func (p *Platform) CostStore() costing.Store {
	return p.costs
}

// ProjectStore returns the project bindings store.
func (p *Platform) ProjectStore() project.Store {
	return p.projects
}

// Projects returns the project resolver.
func (p *Platform) Projects() *project.Resolver {
	return p.resolver
}

// Allocator returns the session allocator.
func (p *Platform) Allocator() *allocator.Allocator {
	return p.allocator
}

// Monitor returns the health monitor.
func (p *Platform) Monitor() *monitor.Monitor {
	return p.monitor
}

// Scaler returns the autoscaler.
func (p *Platform) Scaler() *scaler.Scaler {
	return p.scaler
}

// Accountant returns the cost accountant.
func (p *Platform) Accountant() *costing.Accountant {
	return p.accountant
}

// Dispatcher returns the pool API dispatcher.
func (p *Platform) Dispatcher() *dispatch.Dispatcher {
	return p.dispatcher
}

// Scheduler returns the sweep scheduler, nil when disabled.
func (p *Platform) Scheduler() *schedule.Scheduler {
	return p.scheduler
}

// Authenticator returns the request authenticator.
func (p *Platform) Authenticator() auth.Authenticator {
	return p.authenticator
}

// Health returns the readiness checker.
func (p *Platform) Health() *health.Checker {
	return p.checker
}

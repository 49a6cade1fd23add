// Package schedule drives the recurring pool sweeps on cron expressions.
//
// Each job runs under a timeout and is skipped in-process while its
// previous run is still going. With a Locker configured, a job also takes
// a Postgres advisory lock first, so multi-replica deployments run each
// sweep on one replica at a time.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tapforge/preview-pool/pkg/costing"
	"github.com/tapforge/preview-pool/pkg/metrics"
	"github.com/tapforge/preview-pool/pkg/monitor"
	"github.com/tapforge/preview-pool/pkg/pool"
	"github.com/tapforge/preview-pool/pkg/scaler"
)

// Job names, also the label values on the job metrics.
const (
	JobHealthCheck = "health_check"
	JobScale       = "scale"
	JobHibernate   = "hibernate"
	JobCostSweep   = "cost_sweep"
)

const (
	defaultHealthSpec    = "@every 30s"
	defaultScaleSpec     = "@every 1m"
	defaultHibernateSpec = "@every 1m"

	// The accounting window closes at UTC midnight; sweeping at 00:10
	// leaves room for clock skew between replicas.
	defaultCostSpec = "10 0 * * *"

	defaultJobTimeout = 4 * time.Minute
)

// Config tunes the sweep schedule. Specs accept standard five-field cron
// expressions and @every durations, evaluated in UTC.
type Config struct {
	HealthSpec    string
	ScaleSpec     string
	HibernateSpec string
	CostSpec      string

	// JobTimeout bounds one run of any job. Defaults to 4m.
	JobTimeout time.Duration
}

// Deps are the sweep implementations the scheduler drives.
type Deps struct {
	Monitor    *monitor.Monitor
	Scaler     *scaler.Scaler
	Accountant *costing.Accountant
}

// Job is one scheduled sweep.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler owns the cron runner and the job wrappers around the sweeps.
type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	timeout time.Duration
	logger  *slog.Logger
	names   []string

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New builds a scheduler with the four standard sweeps registered. A nil
// locker disables cross-replica serialization; in-process overlap is
// always skipped.
func New(deps Deps, cfg Config, locker Locker, logger *slog.Logger) (*Scheduler, error) {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	cl := cronLogger{logger: logger}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		locker:  locker,
		timeout: cfg.JobTimeout,
		logger:  logger,
		baseCtx: baseCtx,
		cancel:  cancel,
	}

	for _, job := range standardJobs(deps, cfg, logger) {
		if err := s.Add(job); err != nil {
			cancel()
			return nil, err
		}
	}
	return s, nil
}

// Add registers a job. The cron expression is validated here, not at Start.
func (s *Scheduler) Add(job Job) error {
	if _, err := s.cron.AddFunc(job.Spec, func() { s.runJob(job) }); err != nil {
		return fmt.Errorf("registering job %s (%q): %w", job.Name, job.Spec, err)
	}
	s.names = append(s.names, job.Name)
	return nil
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, len(s.names))
	copy(names, s.names)
	return names
}

// Start begins firing jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("schedule: started", "jobs", len(s.names))
}

// Stop halts scheduling and waits for running jobs. When ctx expires
// first, running jobs are canceled and waited for before returning the
// context error.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-stopped.Done()
		return ctx.Err()
	}
}

func (s *Scheduler) runJob(job Job) {
	ctx, cancelRun := context.WithTimeout(s.baseCtx, s.timeout)
	defer cancelRun()

	if s.locker != nil {
		release, acquired, err := s.locker.TryAcquire(ctx, lockKey(job.Name))
		if err != nil {
			s.logger.Warn("schedule: advisory lock failed",
				"job", job.Name, "error", err)
			return
		}
		if !acquired {
			s.logger.Debug("schedule: job held by another replica", "job", job.Name)
			return
		}
		defer release()
	}

	start := time.Now()
	err := job.Run(ctx)
	metrics.RecordJobRun(job.Name, time.Since(start), err)
	if err != nil {
		s.logger.Error("schedule: job failed", "job", job.Name,
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return
	}
	s.logger.Debug("schedule: job complete", "job", job.Name,
		"duration_ms", time.Since(start).Milliseconds())
}

// standardJobs builds the health, scale, hibernate, and cost sweeps.
func standardJobs(deps Deps, cfg Config, logger *slog.Logger) []Job {
	if cfg.HealthSpec == "" {
		cfg.HealthSpec = defaultHealthSpec
	}
	if cfg.ScaleSpec == "" {
		cfg.ScaleSpec = defaultScaleSpec
	}
	if cfg.HibernateSpec == "" {
		cfg.HibernateSpec = defaultHibernateSpec
	}
	if cfg.CostSpec == "" {
		cfg.CostSpec = defaultCostSpec
	}

	return []Job{
		{
			Name: JobHealthCheck,
			Spec: cfg.HealthSpec,
			Run: func(ctx context.Context) error {
				results, err := deps.Monitor.HealthCheck(ctx, "")
				if err != nil {
					return err
				}
				unhealthy := 0
				for _, r := range results {
					if r.HealthStatus != pool.HealthHealthy {
						unhealthy++
					}
				}
				if unhealthy > 0 {
					logger.Info("schedule: health sweep flagged instances",
						"probed", len(results), "unhealthy", unhealthy)
				}
				return nil
			},
		},
		{
			Name: JobScale,
			Spec: cfg.ScaleSpec,
			Run: func(ctx context.Context) error {
				results, err := deps.Scaler.Scale(ctx, "")
				if err != nil {
					return err
				}
				failed := 0
				for _, res := range results {
					if res.Err != nil {
						failed++
						logger.Warn("schedule: pool scale failed",
							"pool_id", res.PoolID, "error", res.Err)
						continue
					}
					if res.Action != "" {
						metrics.RecordScaleDecision(res.Action)
					}
					metrics.RecordTerminated(len(res.Terminated))
					metrics.RecordPoolGauges(res.PoolID, res.Metrics)
				}
				if failed > 0 {
					return fmt.Errorf("scaling failed for %d of %d pools", failed, len(results))
				}
				return nil
			},
		},
		{
			Name: JobHibernate,
			Spec: cfg.HibernateSpec,
			Run: func(ctx context.Context) error {
				n, err := deps.Scaler.HibernateIdle(ctx)
				if err != nil {
					return err
				}
				metrics.RecordHibernated(n)
				if n > 0 {
					logger.Info("schedule: hibernated idle sessions", "count", n)
				}
				return nil
			},
		},
		{
			Name: JobCostSweep,
			Spec: cfg.CostSpec,
			Run: func(ctx context.Context) error {
				inserted, err := deps.Accountant.SweepPrevious(ctx)
				if err != nil {
					return err
				}
				logger.Info("schedule: cost sweep complete", "inserted", inserted)
				return nil
			},
		},
	}
}

// cronLogger adapts slog to the cron logger contract. Cron's own chatter
// (skip notices, recovered panics) lands at debug and error.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("schedule: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("schedule: "+msg, append(keysAndValues, "error", err)...)
}

// Verify interface compliance.
var _ cron.Logger = (*cronLogger)(nil)

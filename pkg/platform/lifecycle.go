package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// phase is one named start/stop pair. Either hook may be nil.
type phase struct {
	name  string
	start func(context.Context) error
	stop  func(context.Context) error
}

// Lifecycle sequences startup and shutdown of the assembled components.
// Phases start in registration order and stop in reverse; a failed start
// rolls back the phases already started.
type Lifecycle struct {
	mu      sync.Mutex
	logger  *slog.Logger
	phases  []phase
	started int
}

// NewLifecycle creates an empty lifecycle.
func NewLifecycle(logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{logger: logger}
}

// Register adds a named phase. Registration order is start order; stop runs
// in the reverse order, and only for phases that started.
func (l *Lifecycle) Register(name string, start, stop func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phases = append(l.phases, phase{name: name, start: start, stop: stop})
}

// Start runs all start hooks in order. On failure the already-started
// phases are stopped in reverse before the error is returned.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started > 0 {
		return errors.New("lifecycle already started")
	}

	for i, ph := range l.phases {
		if ph.start == nil {
			l.started = i + 1
			continue
		}
		if err := ph.start(ctx); err != nil {
			l.rollback(ctx, i)
			return fmt.Errorf("starting %s: %w", ph.name, err)
		}
		l.started = i + 1
	}
	return nil
}

// rollback stops phases [0, failedAt) in reverse order.
func (l *Lifecycle) rollback(ctx context.Context, failedAt int) {
	for j := failedAt - 1; j >= 0; j-- {
		ph := l.phases[j]
		if ph.stop == nil {
			continue
		}
		if err := ph.stop(ctx); err != nil {
			l.logger.Warn("platform: rollback stop failed", "phase", ph.name, "error", err)
		}
	}
	l.started = 0
}

// Stop runs the stop hooks of started phases in reverse order. Errors from
// individual phases are joined so a failing phase does not block the rest.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started == 0 {
		return nil
	}

	var errs []error
	for i := l.started - 1; i >= 0; i-- {
		ph := l.phases[i]
		if ph.stop == nil {
			continue
		}
		if err := ph.stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", ph.name, err))
		}
	}
	l.started = 0
	return errors.Join(errs...)
}

// Started reports whether Start has completed successfully.
func (l *Lifecycle) Started() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started == len(l.phases) && len(l.phases) > 0
}

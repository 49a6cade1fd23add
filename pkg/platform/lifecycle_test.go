package platform

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestLifecycle_StartAndStop(t *testing.T) {
	lc := NewLifecycle(nil)

	var started, stopped bool
	lc.Register("phase",
		func(context.Context) error {
			started = true
			return nil
		},
		func(context.Context) error {
			stopped = true
			return nil
		},
	)

	if err := lc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !started {
		t.Error("start hook not called")
	}
	if !lc.Started() {
		t.Error("Started() = false after Start()")
	}

	if err := lc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !stopped {
		t.Error("stop hook not called")
	}
	if lc.Started() {
		t.Error("Started() = true after Stop()")
	}
}

func TestLifecycle_StartAlreadyStarted(t *testing.T) {
	lc := NewLifecycle(nil)
	lc.Register("phase", func(context.Context) error { return nil }, nil)
	_ = lc.Start(context.Background())

	if err := lc.Start(context.Background()); err == nil {
		t.Error("Start() expected error for already started")
	}
}

func TestLifecycle_StopNotStarted(t *testing.T) {
	lc := NewLifecycle(nil)
	lc.Register("phase", nil, func(context.Context) error {
		t.Error("stop hook must not run before Start")
		return nil
	})

	if err := lc.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v, expected nil for not started", err)
	}
}

func TestLifecycle_NilHooks(t *testing.T) {
	lc := NewLifecycle(nil)

	var ran bool
	lc.Register("first", nil, nil)
	lc.Register("second", func(context.Context) error {
		ran = true
		return nil
	}, nil)

	if err := lc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !ran {
		t.Error("second phase start hook not called")
	}
	if err := lc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestLifecycle_StartRollbackOnError(t *testing.T) {
	lc := NewLifecycle(nil)

	var calls []string
	lc.Register("one",
		func(context.Context) error {
			calls = append(calls, "start one")
			return nil
		},
		func(context.Context) error {
			calls = append(calls, "stop one")
			return nil
		},
	)
	lc.Register("two",
		func(context.Context) error {
			calls = append(calls, "start two")
			return errors.New("boom")
		},
		func(context.Context) error {
			calls = append(calls, "stop two")
			return nil
		},
	)

	err := lc.Start(context.Background())
	if err == nil {
		t.Fatal("Start() expected error")
	}
	if !strings.Contains(err.Error(), "starting two") {
		t.Errorf("Start() error = %q, want the failing phase named", err)
	}

	want := []string{"start one", "start two", "stop one"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
	if lc.Started() {
		t.Error("Started() = true after failed Start")
	}
}

func TestLifecycle_RestartAfterRollback(t *testing.T) {
	lc := NewLifecycle(nil)

	fail := true
	lc.Register("flaky", func(context.Context) error {
		if fail {
			return errors.New("transient")
		}
		return nil
	}, nil)

	if err := lc.Start(context.Background()); err == nil {
		t.Fatal("first Start() expected error")
	}

	fail = false
	if err := lc.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if !lc.Started() {
		t.Error("Started() = false after successful retry")
	}
}

func TestLifecycle_StopInReverseOrder(t *testing.T) {
	lc := NewLifecycle(nil)

	var order []string
	for _, name := range []string{"a", "b", "c"} {
		lc.Register(name, nil, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	_ = lc.Start(context.Background())
	_ = lc.Stop(context.Background())

	want := []string{"c", "b", "a"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestLifecycle_StopCollectsErrors(t *testing.T) {
	lc := NewLifecycle(nil)

	lc.Register("one", nil, func(context.Context) error {
		return errors.New("one failed")
	})
	lc.Register("two", nil, func(context.Context) error {
		return errors.New("two failed")
	})

	_ = lc.Start(context.Background())
	err := lc.Stop(context.Background())
	if err == nil {
		t.Fatal("Stop() expected error")
	}
	for _, want := range []string{"stopping one", "stopping two"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Stop() error = %q, want it to contain %q", err, want)
		}
	}
}

func TestLifecycle_RollbackStopErrorDoesNotMask(t *testing.T) {
	lc := NewLifecycle(nil)

	lc.Register("one", nil, func(context.Context) error {
		return errors.New("rollback stop failed")
	})
	lc.Register("two", func(context.Context) error {
		return errors.New("start failed")
	}, nil)

	err := lc.Start(context.Background())
	if err == nil {
		t.Fatal("Start() expected error")
	}
	if !strings.Contains(err.Error(), "start failed") {
		t.Errorf("Start() error = %q, want the original start failure", err)
	}
	if lc.Started() {
		t.Error("Started() = true after rollback")
	}
}

func TestLifecycle_EmptyNotStarted(t *testing.T) {
	lc := NewLifecycle(nil)
	if lc.Started() {
		t.Error("Started() = true with no phases")
	}
}

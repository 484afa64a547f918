package stage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

// TestRunStopsBeforeNextPeriod: a stage
// blocked sleeping between cycles wakes immediately when Stop is set,
// instead of waiting out its full period.
func TestRunStopsBeforeNextPeriod(t *testing.T) {
	stop := stopsignal.New()
	var executed int32

	b := NewBase("probe", 0, time.Hour, false, stop, func(ctx context.Context) error {
		atomic.AddInt32(&executed, 1)
		return nil
	})

	done := make(chan struct{})
	go func() {
		b.Run(context.Background())
		close(done)
	}()

	// Give Run a moment to complete its first cycle and enter the sleep.
	time.Sleep(50 * time.Millisecond)
	stop.Set()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after Stop was set; it waited out the full period")
	}

	if got := atomic.LoadInt32(&executed); got != 1 {
		t.Fatalf("expected exactly one Execute before shutdown, got %d", got)
	}
}

// TestRunSingleShotIgnoresStop confirms single-shot mode runs Execute
// exactly once and returns without consulting the stop signal at all.
func TestRunSingleShotIgnoresStop(t *testing.T) {
	stop := stopsignal.New()
	stop.Set()
	var executed int32

	b := NewBase("probe", 0, time.Hour, true, stop, func(ctx context.Context) error {
		atomic.AddInt32(&executed, 1)
		return nil
	})

	b.Run(context.Background())

	if got := atomic.LoadInt32(&executed); got != 1 {
		t.Fatalf("expected exactly one Execute in single-shot mode, got %d", got)
	}
}

// TestExecuteRecoversPanic confirms a panicking stage body never
// escapes Execute: it is converted into an error and logged instead of
// crashing the process.
func TestExecuteRecoversPanic(t *testing.T) {
	stop := stopsignal.New()
	b := NewBase("probe", 0, time.Hour, true, stop, func(ctx context.Context) error {
		panic("boom")
	})

	err := b.Execute(context.Background())
	if err == nil {
		t.Fatal("expected Execute to convert the panic into an error")
	}
}

// TestRunLoopsUntilStop confirms a stage with a short period runs
// Execute repeatedly while unset, and stops incrementing once Stop is
// set.
func TestRunLoopsUntilStop(t *testing.T) {
	stop := stopsignal.New()
	var executed int32

	b := NewBase("probe", 0, 10*time.Millisecond, false, stop, func(ctx context.Context) error {
		n := atomic.AddInt32(&executed, 1)
		if n >= 3 {
			stop.Set()
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		b.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the stage itself set Stop")
	}

	if got := atomic.LoadInt32(&executed); got < 3 {
		t.Fatalf("expected at least 3 executions before stop, got %d", got)
	}
}

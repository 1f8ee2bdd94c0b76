package quota

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiter_FirstCheckAdmits(t *testing.T) {
	release := make(chan struct{})
	consume := func(ctx context.Context, key string) (time.Duration, error) {
		<-release
		return 0, nil
	}
	l := NewLimiter("1.2.3.4", consume, nil)

	if !l.Check(context.Background()) {
		t.Error("First check should admit immediately")
	}
	close(release)
}

func TestLimiter_DeniesWhileFlightOutstanding(t *testing.T) {
	release := make(chan struct{})
	consume := func(ctx context.Context, key string) (time.Duration, error) {
		<-release
		return 0, nil
	}
	l := NewLimiter("1.2.3.4", consume, nil)
	ctx := context.Background()

	if !l.Check(ctx) {
		t.Fatal("First check should admit")
	}
	if l.Check(ctx) {
		t.Error("Second check should be denied while flight is outstanding")
	}

	close(release)

	// Once the flight returns with zero cooldown the limiter clears.
	deadline := time.After(2 * time.Second)
	for !l.Check(ctx) {
		select {
		case <-deadline:
			t.Fatal("Limiter never cleared after flight completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestLimiter_SleepsReturnedCooldown(t *testing.T) {
	consume := func(ctx context.Context, key string) (time.Duration, error) {
		return 100 * time.Millisecond, nil
	}
	l := NewLimiter("1.2.3.4", consume, nil)
	ctx := context.Background()

	if !l.Check(ctx) {
		t.Fatal("First check should admit")
	}

	// Denied while the cooldown sleep is in progress.
	time.Sleep(30 * time.Millisecond)
	if l.Check(ctx) {
		t.Error("Check during cooldown sleep should be denied")
	}

	time.Sleep(150 * time.Millisecond)
	if !l.Check(ctx) {
		t.Error("Check after cooldown elapsed should admit")
	}
}

func TestLimiter_FailureIsFatal(t *testing.T) {
	var failures atomic.Int32
	consume := func(ctx context.Context, key string) (time.Duration, error) {
		return 0, errors.New("quota service unreachable")
	}
	l := NewLimiter("1.2.3.4", consume, func(err error) {
		failures.Add(1)
	})
	ctx := context.Background()

	if !l.Check(ctx) {
		t.Fatal("First check should admit")
	}

	deadline := time.After(2 * time.Second)
	for failures.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("Failure callback never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// A broken limiter never admits again.
	if l.Check(ctx) {
		t.Error("Check after quota failure should be denied")
	}
	if got := failures.Load(); got != 1 {
		t.Errorf("Failure callback should fire once, fired %d times", got)
	}
}

func TestLimiter_CancelAbandonsFlight(t *testing.T) {
	consume := func(ctx context.Context, key string) (time.Duration, error) {
		return time.Hour, nil
	}
	var failed atomic.Bool
	l := NewLimiter("1.2.3.4", consume, func(error) { failed.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	if !l.Check(ctx) {
		t.Fatal("First check should admit")
	}

	// Session close: the hour-long cooldown sleep is abandoned, its answer
	// discarded, and no failure is reported.
	cancel()
	time.Sleep(50 * time.Millisecond)
	if failed.Load() {
		t.Error("Cancelled flight must not report a failure")
	}
}

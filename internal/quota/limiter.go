package quota

import (
	"context"
	"sync"
	"time"
)

// Limiter is the per-session gatekeeper in front of the quota service. It is
// a single-flight, self-clocking throttle, not a queue: the first check in a
// burst is admitted immediately and marks the limiter busy; while busy every
// check is denied. A background flight consumes a token from the service,
// sleeps the prescribed cooldown, and only then clears the busy flag.
//
// A failed round-trip is fatal for the owning session: the failure callback
// fires once and the limiter denies everything afterwards.
type Limiter struct {
	clientKey string
	consume   ConsumeFunc
	onFailure func(error)

	mu     sync.Mutex
	busy   bool
	broken bool
}

// NewLimiter creates a limiter for one session. onFailure is invoked from
// the flight goroutine when the quota service cannot be reached; it must not
// block.
func NewLimiter(clientKey string, consume ConsumeFunc, onFailure func(error)) *Limiter {
	return &Limiter{
		clientKey: clientKey,
		consume:   consume,
		onFailure: onFailure,
	}
}

// Check reports whether a message may be sent right now. It never blocks.
// ctx bounds the background flight; cancelling it (session close) abandons
// the in-flight cooldown sleep and discards its answer.
func (l *Limiter) Check(ctx context.Context) bool {
	l.mu.Lock()
	if l.busy || l.broken {
		l.mu.Unlock()
		return false
	}
	l.busy = true
	l.mu.Unlock()

	go l.flight(ctx)
	return true
}

func (l *Limiter) flight(ctx context.Context) {
	cooldown, err := l.consume(ctx, l.clientKey)
	if err != nil {
		l.mu.Lock()
		l.broken = true
		l.mu.Unlock()
		if ctx.Err() == nil && l.onFailure != nil {
			l.onFailure(err)
		}
		return
	}

	if cooldown > 0 {
		timer := time.NewTimer(cooldown)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
	}

	l.mu.Lock()
	l.busy = false
	l.mu.Unlock()
}

package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"roomcast/pkg/interfaces"
)

// Default cooldown parameters. A client may consume Grace/Penalty tokens
// back to back before the returned cooldown becomes nonzero.
const (
	DefaultPenalty = 5 * time.Second
	DefaultGrace   = 20 * time.Second
)

// Service is the durable per-identity cooldown clock. The whole limiter
// state for one client is a single next-allowed timestamp: each check pulls
// it forward to now, consuming checks add the penalty, and the caller is
// told how far past the grace allowance it has drifted.
type Service struct {
	store   interfaces.QuotaStore
	penalty time.Duration
	grace   time.Duration

	mu  sync.Mutex
	now func() time.Time
}

// NewService creates a cooldown service backed by the given store.
func NewService(store interfaces.QuotaStore, penalty, grace time.Duration) *Service {
	if penalty <= 0 {
		penalty = DefaultPenalty
	}
	if grace < 0 {
		grace = DefaultGrace
	}
	return &Service{
		store:   store,
		penalty: penalty,
		grace:   grace,
		now:     time.Now,
	}
}

// Check advances the clock for one client identity and returns the remaining
// cooldown. A consuming check spends a token; a read-only check just reports.
// Checks for distinct identities are independent; the mutex only serializes
// the read-modify-write against the store.
func (s *Service) Check(ctx context.Context, clientKey string, consume bool) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.store.NextAllowed(ctx, clientKey)
	if err != nil {
		return 0, fmt.Errorf("failed to load quota record: %w", err)
	}

	nowMillis := s.now().UnixMilli()
	nextAllowed := stored
	if nowMillis > nextAllowed {
		nextAllowed = nowMillis
	}

	if consume {
		nextAllowed += s.penalty.Milliseconds()
		if err := s.store.SetNextAllowed(ctx, clientKey, nextAllowed); err != nil {
			return 0, fmt.Errorf("failed to persist quota record: %w", err)
		}
	}

	cooldownMillis := nextAllowed - nowMillis - s.grace.Milliseconds()
	if cooldownMillis < 0 {
		cooldownMillis = 0
	}
	return time.Duration(cooldownMillis) * time.Millisecond, nil
}

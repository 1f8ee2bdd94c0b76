package quota

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeQuotaStore keeps quota records in memory for service tests.
type fakeQuotaStore struct {
	mu      sync.Mutex
	records map[string]int64
	failing bool
}

func newFakeQuotaStore() *fakeQuotaStore {
	return &fakeQuotaStore{records: make(map[string]int64)}
}

func (f *fakeQuotaStore) NextAllowed(_ context.Context, clientKey string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return 0, context.DeadlineExceeded
	}
	return f.records[clientKey], nil
}

func (f *fakeQuotaStore) SetNextAllowed(_ context.Context, clientKey string, next int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return context.DeadlineExceeded
	}
	f.records[clientKey] = next
	return nil
}

// newTestService pins the clock so cooldown math is deterministic.
func newTestService(store *fakeQuotaStore, at time.Time) *Service {
	s := NewService(store, DefaultPenalty, DefaultGrace)
	s.now = func() time.Time { return at }
	return s
}

func TestService_GraceAllowsBurst(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	s := newTestService(newFakeQuotaStore(), now)
	ctx := context.Background()

	// grace=20s, penalty=5s: four consuming checks at the same instant are
	// free, the fifth reports a nonzero cooldown.
	for i := 1; i <= 4; i++ {
		cooldown, err := s.Check(ctx, "1.2.3.4", true)
		if err != nil {
			t.Fatalf("Check %d failed: %v", i, err)
		}
		if cooldown != 0 {
			t.Errorf("Check %d expected zero cooldown, got %v", i, cooldown)
		}
	}

	cooldown, err := s.Check(ctx, "1.2.3.4", true)
	if err != nil {
		t.Fatalf("Check 5 failed: %v", err)
	}
	if cooldown != 5*time.Second {
		t.Errorf("Check 5 expected 5s cooldown, got %v", cooldown)
	}
}

func TestService_CooldownExpires(t *testing.T) {
	store := newFakeQuotaStore()
	now := time.UnixMilli(1700000000000)
	s := newTestService(store, now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Check(ctx, "1.2.3.4", true); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
	}

	// After the returned cooldown has elapsed a consuming check is free again.
	s.now = func() time.Time { return now.Add(10 * time.Second) }
	cooldown, err := s.Check(ctx, "1.2.3.4", true)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if cooldown != 0 {
		t.Errorf("Expected zero cooldown after waiting, got %v", cooldown)
	}
}

func TestService_ReadOnlyCheckDoesNotConsume(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	s := newTestService(newFakeQuotaStore(), now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		cooldown, err := s.Check(ctx, "1.2.3.4", false)
		if err != nil {
			t.Fatalf("Read-only check failed: %v", err)
		}
		if cooldown != 0 {
			t.Errorf("Read-only check %d should not accumulate penalty, got %v", i, cooldown)
		}
	}
}

func TestService_IdentitiesAreIndependent(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	s := newTestService(newFakeQuotaStore(), now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Check(ctx, "1.2.3.4", true); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
	}

	cooldown, err := s.Check(ctx, "5.6.7.8", true)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if cooldown != 0 {
		t.Errorf("Fresh identity should have zero cooldown, got %v", cooldown)
	}
}

func TestService_StoreFailurePropagates(t *testing.T) {
	store := newFakeQuotaStore()
	store.failing = true
	s := newTestService(store, time.UnixMilli(1700000000000))

	if _, err := s.Check(context.Background(), "1.2.3.4", true); err == nil {
		t.Error("Expected error when store is failing")
	}
}

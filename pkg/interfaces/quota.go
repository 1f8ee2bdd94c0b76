package interfaces

import "context"

// QuotaStore persists the single next-allowed timestamp (milliseconds since
// epoch) kept per client identity. A missing record reads as zero.
type QuotaStore interface {
	NextAllowed(ctx context.Context, clientKey string) (int64, error)
	SetNextAllowed(ctx context.Context, clientKey string, nextAllowedMillis int64) error
}

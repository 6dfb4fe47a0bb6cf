package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers processed provider event IDs so that a
// redelivered webhook is answered without touching the ledger again.
type IdempotencyStore interface {
	// MarkProcessed marks an event as processed with a TTL.
	// Returns true if the event was newly marked, false if a delivery
	// with the same ID already went through.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// IsProcessed checks whether an event ID has already been seen
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	// Close releases the store's resources
	Close() error
}

// IdempotencyConfig holds configuration for duplicate-event handling
type IdempotencyConfig struct {
	// TTL bounds how long processed event IDs are remembered. Payment
	// providers stop retrying deliveries well within a day, so after
	// the TTL the same ID may be processed again.
	TTL time.Duration

	// Enabled toggles the fast-path check entirely
	Enabled bool
}

// DefaultIdempotencyConfig keeps event IDs for 24 hours
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIdempotencyStore_MarkProcessed(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()

	t.Run("marks a first delivery as new", func(t *testing.T) {
		isNew, err := store.MarkProcessed(ctx, "evt_1a2b3c", time.Hour)
		require.NoError(t, err)
		assert.True(t, isNew, "first delivery should return true")
	})

	t.Run("returns false for a redelivered event", func(t *testing.T) {
		isNew, err := store.MarkProcessed(ctx, "evt_redelivered", time.Hour)
		require.NoError(t, err)
		assert.True(t, isNew)

		isNew, err = store.MarkProcessed(ctx, "evt_redelivered", time.Hour)
		require.NoError(t, err)
		assert.False(t, isNew, "redelivery should return false")
	})

	t.Run("allows reprocessing after the TTL expires", func(t *testing.T) {
		isNew, err := store.MarkProcessed(ctx, "evt_shortlived", 10*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, isNew)

		time.Sleep(20 * time.Millisecond)

		isNew, err = store.MarkProcessed(ctx, "evt_shortlived", 10*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, isNew, "expired event should be reprocessable")
	})
}

func TestInMemoryIdempotencyStore_IsProcessed(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()

	t.Run("returns false for an unseen event", func(t *testing.T) {
		processed, err := store.IsProcessed(ctx, "evt_never_seen")
		require.NoError(t, err)
		assert.False(t, processed)
	})

	t.Run("returns true for a processed event", func(t *testing.T) {
		_, err := store.MarkProcessed(ctx, "evt_processed", time.Hour)
		require.NoError(t, err)

		processed, err := store.IsProcessed(ctx, "evt_processed")
		require.NoError(t, err)
		assert.True(t, processed)
	})

	t.Run("returns false once the entry has expired", func(t *testing.T) {
		_, err := store.MarkProcessed(ctx, "evt_expired", 10*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		processed, err := store.IsProcessed(ctx, "evt_expired")
		require.NoError(t, err)
		assert.False(t, processed, "expired event should return false")
	})
}

func TestInMemoryIdempotencyStore_Size(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()

	assert.Equal(t, 0, store.Size(), "empty store should have size 0")

	store.MarkProcessed(ctx, "evt_a", time.Hour)
	assert.Equal(t, 1, store.Size())

	store.MarkProcessed(ctx, "evt_b", time.Hour)
	assert.Equal(t, 2, store.Size())

	// Redelivery must not grow the store
	store.MarkProcessed(ctx, "evt_a", time.Hour)
	assert.Equal(t, 2, store.Size())
}

func TestInMemoryIdempotencyStore_Cleanup(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()

	store.MarkProcessed(ctx, "evt_short_1", 10*time.Millisecond)
	store.MarkProcessed(ctx, "evt_short_2", 10*time.Millisecond)
	store.MarkProcessed(ctx, "evt_long", time.Hour)

	assert.Equal(t, 3, store.Size())

	time.Sleep(20 * time.Millisecond)

	store.cleanup()

	assert.Equal(t, 1, store.Size())

	processed, err := store.IsProcessed(ctx, "evt_long")
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = store.IsProcessed(ctx, "evt_short_1")
	require.NoError(t, err)
	assert.False(t, processed)
}

// Concurrent webhook deliveries of the same event must resolve to
// exactly one winner.
func TestInMemoryIdempotencyStore_ConcurrentAccess(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()
	const numGoroutines = 100
	const eventID = "evt_concurrent"

	results := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			isNew, err := store.MarkProcessed(ctx, eventID, time.Hour)
			if err != nil {
				results <- false
			} else {
				results <- isNew
			}
		}()
	}

	newCount := 0
	duplicateCount := 0
	for i := 0; i < numGoroutines; i++ {
		if <-results {
			newCount++
		} else {
			duplicateCount++
		}
	}

	assert.Equal(t, 1, newCount, "exactly one delivery should win")
	assert.Equal(t, numGoroutines-1, duplicateCount, "all others should be duplicates")
}

func TestInMemoryIdempotencyStore_Close(t *testing.T) {
	store := NewInMemoryIdempotencyStore()

	err := store.Close()
	assert.NoError(t, err)

	// Close must be idempotent too
	err = store.Close()
	assert.NoError(t, err)
}

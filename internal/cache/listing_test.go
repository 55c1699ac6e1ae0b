package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var from = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func counting(calls *atomic.Int32) Loader[int] {
	return func(_ context.Context, _, userID int64, _, _ time.Time) ([]int, error) {
		n := calls.Add(1)
		return []int{int(userID), int(n)}, nil
	}
}

func TestListingCachesUntilInvalidated(t *testing.T) {
	var calls atomic.Int32
	l := NewListing(counting(&calls), 0)
	ctx := context.Background()
	to := from.Add(24 * time.Hour)

	first, err := l.Get(ctx, 1, 2, from, to)
	require.NoError(t, err)
	again, err := l.Get(ctx, 1, 2, from, to)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, int32(1), calls.Load())

	// other tenants are untouched by an invalidation
	_, err = l.Get(ctx, 5, 2, from, to)
	require.NoError(t, err)
	l.Invalidate(ctx, 1)
	_, _ = l.Get(ctx, 5, 2, from, to)
	assert.Equal(t, int32(2), calls.Load())

	fresh, err := l.Get(ctx, 1, 2, from, to)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, fresh)
}

func TestListingExpires(t *testing.T) {
	var calls atomic.Int32
	l := NewListing(counting(&calls), time.Minute)
	now := from
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = l.Get(ctx, 1, 2, from, from.Add(time.Hour))
	now = now.Add(30 * time.Second)
	_, _ = l.Get(ctx, 1, 2, from, from.Add(time.Hour))
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(time.Minute)
	_, _ = l.Get(ctx, 1, 2, from, from.Add(time.Hour))
	assert.Equal(t, int32(2), calls.Load())
}

func TestListingSingleFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	l := NewListing(func(context.Context, int64, int64, time.Time, time.Time) ([]int, error) {
		calls.Add(1)
		<-release
		return []int{1}, nil
	}, 0)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Get(context.Background(), 1, 2, from, from.Add(time.Hour))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestListingDoesNotKeepErrors(t *testing.T) {
	fail := true
	l := NewListing(func(context.Context, int64, int64, time.Time, time.Time) ([]int, error) {
		if fail {
			return nil, errors.New("db down")
		}
		return []int{1}, nil
	}, 0)

	_, err := l.Get(context.Background(), 1, 2, from, from)
	require.Error(t, err)
	fail = false
	got, err := l.Get(context.Background(), 1, 2, from, from)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got)
}

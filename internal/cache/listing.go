// Package cache keeps per-user occurrence listings until the tenant changes.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"calendar-service/internal/metrics"
)

// Loader computes the listing of userID in [from, to).
type Loader[T any] func(ctx context.Context, contextID, userID int64, from, to time.Time) ([]T, error)

type entry[T any] struct {
	items   []T
	expires time.Time
}

// Listing caches loader results per context, user and window. Invalidate
// drops every entry of a context at once; loads racing an invalidation are
// returned to their caller but not kept.
type Listing[T any] struct {
	load  Loader[T]
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	gen     map[int64]uint64
	entries map[int64]map[string]entry[T]
}

func NewListing[T any](load Loader[T], ttl time.Duration) *Listing[T] {
	return &Listing[T]{
		load:    load,
		ttl:     ttl,
		now:     time.Now,
		gen:     make(map[int64]uint64),
		entries: make(map[int64]map[string]entry[T]),
	}
}

func windowKey(userID int64, from, to time.Time) string {
	return fmt.Sprintf("%d:%d:%d", userID, from.UnixMilli(), to.UnixMilli())
}

func (l *Listing[T]) Get(ctx context.Context, contextID, userID int64, from, to time.Time) ([]T, error) {
	key := windowKey(userID, from, to)

	l.mu.RLock()
	e, ok := l.entries[contextID][key]
	gen := l.gen[contextID]
	l.mu.RUnlock()
	if ok && (l.ttl <= 0 || l.now().Before(e.expires)) {
		metrics.ListingCacheHits.Inc()
		return e.items, nil
	}
	metrics.ListingCacheMisses.Inc()

	flight := fmt.Sprintf("%d:%d:%s", contextID, gen, key)
	v, err, _ := l.group.Do(flight, func() (any, error) {
		items, err := l.load(ctx, contextID, userID, from, to)
		if err != nil {
			return nil, err
		}
		l.store(contextID, gen, key, items)
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]T), nil
}

func (l *Listing[T]) store(contextID int64, gen uint64, key string, items []T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen[contextID] != gen {
		return
	}
	m := l.entries[contextID]
	if m == nil {
		m = make(map[string]entry[T])
		l.entries[contextID] = m
	}
	m[key] = entry[T]{items: items, expires: l.now().Add(l.ttl)}
}

// Invalidate implements calendar.Cache.
func (l *Listing[T]) Invalidate(_ context.Context, contextID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen[contextID]++
	delete(l.entries, contextID)
	metrics.ListingCacheInvalidations.Inc()
}

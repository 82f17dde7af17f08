// Package snapcache holds the most recent merged snapshot set behind a TTL,
// coalescing concurrent refreshes into a single store query and serving the
// last-known-good set when a refresh fails. It is the backpressure mechanism
// that keeps N concurrent viewers from each polling the store.
package snapcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JevgeniGandsuUT/TallinnATOM/errors"
	"github.com/JevgeniGandsuUT/TallinnATOM/metric"
	"github.com/JevgeniGandsuUT/TallinnATOM/snapshot"
)

// Fetcher produces a fresh snapshot set from the store
type Fetcher func(ctx context.Context) (snapshot.Set, error)

// Info describes the current cache entry for health and stream payloads
type Info struct {
	ProducedAt time.Time
	LastError  string
	HasData    bool
}

// AgeMS returns the entry age in milliseconds, or nil before the first
// successful refresh.
func (i Info) AgeMS(now time.Time) *int64 {
	if !i.HasData {
		return nil
	}
	ms := now.Sub(i.ProducedAt).Milliseconds()
	return &ms
}

// Cache owns the single process-lifetime cache entry. The mutex guards only
// entry reads and swaps; the store query happens outside the critical
// section, coordinated by the singleflight group.
type Cache struct {
	mu         sync.RWMutex
	set        snapshot.Set
	producedAt time.Time
	lastError  string

	group   singleflight.Group
	fetch   Fetcher
	ttl     time.Duration
	timeout time.Duration
	metrics *metric.Metrics
	logger  *slog.Logger
}

// New creates a snapshot cache. refreshTimeout bounds each store refresh;
// it applies to a context detached from the requester, so an in-flight
// refresh always completes and updates the cache even if the caller that
// triggered it has gone away.
func New(fetch Fetcher, ttl, refreshTimeout time.Duration, metrics *metric.Metrics, logger *slog.Logger) *Cache {
	return &Cache{
		fetch:   fetch,
		ttl:     ttl,
		timeout: refreshTimeout,
		metrics: metrics,
		logger:  logger.With("component", "snapcache"),
	}
}

// GetOrRefresh returns the cached snapshot set, refreshing it when the TTL
// has elapsed. On refresh failure the prior set is returned stale; an error
// is propagated only when no successful refresh has ever happened.
func (c *Cache) GetOrRefresh(ctx context.Context) (snapshot.Set, error) {
	if set, ok := c.fresh(); ok {
		c.metrics.CacheHits.Inc()
		return set, nil
	}
	c.metrics.CacheMisses.Inc()

	v, err, _ := c.group.Do("devices", func() (any, error) {
		// A caller queued behind a completed refresh sees a fresh entry
		if set, ok := c.fresh(); ok {
			return set, nil
		}
		return c.refresh()
	})
	if err != nil {
		return nil, err
	}
	return v.(snapshot.Set), nil
}

// Info returns the current entry metadata
func (c *Cache) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Info{
		ProducedAt: c.producedAt,
		LastError:  c.lastError,
		HasData:    !c.producedAt.IsZero(),
	}
}

// fresh returns the entry if it exists and is within the TTL
func (c *Cache) fresh() (snapshot.Set, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.producedAt.IsZero() || time.Since(c.producedAt) >= c.ttl {
		return nil, false
	}
	return c.set, true
}

// refresh performs one store fetch and swaps the entry wholesale on
// success. Runs inside the singleflight group, never under the mutex.
func (c *Cache) refresh() (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	set, err := c.fetch(ctx)
	if err != nil {
		c.metrics.CacheRefreshFailures.Inc()

		c.mu.Lock()
		c.lastError = err.Error()
		prior := c.set
		hasPrior := !c.producedAt.IsZero()
		c.mu.Unlock()

		if !hasPrior {
			return nil, errors.WrapTransient(
				fmt.Errorf("%w: %w", errors.ErrNoCachedData, err),
				"Cache", "refresh", "initial refresh")
		}

		c.logger.Warn("refresh failed, serving stale snapshot", "error", err)
		return prior, nil
	}

	now := time.Now()
	c.mu.Lock()
	c.set = set
	c.producedAt = now
	c.lastError = ""
	c.mu.Unlock()

	c.metrics.DevicesTracked.Set(float64(len(set)))
	c.metrics.CacheAgeSeconds.Set(0)
	return set, nil
}

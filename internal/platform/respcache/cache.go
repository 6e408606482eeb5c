// Package respcache is a bounded TTL cache with in-flight request coalescing
// and a global concurrency gate, used to shield slow upstream calls.
package respcache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Outcome tells the caller how Do produced its value.
type Outcome int

const (
	// Computed means this call (or the flight it joined) ran the loader.
	Computed Outcome = iota
	// Hit means a live entry was served from the store.
	Hit
	// Busy means every slot was taken and the busy value was returned.
	Busy
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Busy:
		return "busy"
	default:
		return "computed"
	}
}

var (
	lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clinic",
		Subsystem: "respcache",
		Name:      "lookups_total",
		Help:      "Cache lookups by result (hit, miss, shared, busy, error).",
	}, []string{"cache", "result"})
	inflightGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "clinic",
		Subsystem: "respcache",
		Name:      "inflight",
		Help:      "Loader calls currently holding a concurrency slot.",
	}, []string{"cache"})
)

// Config sizes a Cache.
type Config struct {
	Name        string
	MaxEntries  int
	DefaultTTL  time.Duration
	MaxInflight int64
	// Now overrides the clock used for entry expiry.
	Now func() time.Time
}

// LoadFunc computes a value and the TTL it should be stored with.
// A non-positive TTL means the cache default.
type LoadFunc[V any] func(ctx context.Context) (V, time.Duration, error)

// BusyFunc produces the value shared with callers when no slot is free.
type BusyFunc[V any] func() (V, time.Duration)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type flightResult[V any] struct {
	value   V
	outcome Outcome
}

// Cache is safe for concurrent use. The store, the pending-call table and the
// gate are each internally synchronised; Do composes them so that a key has at
// most one loader running and the number of running loaders never exceeds
// MaxInflight.
type Cache[V any] struct {
	name     string
	store    *expirable.LRU[string, entry[V]]
	flight   singleflight.Group
	gate     *semaphore.Weighted
	inflight atomic.Int64
	ttl      time.Duration
	now      func() time.Time
}

func New[V any](cfg Config) *Cache[V] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 2 * time.Minute
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 1
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	// The LRU's own expiry only bounds residency; freshness is decided by
	// each entry's expiresAt.
	residency := cfg.DefaultTTL
	if residency < 30*time.Second {
		residency = 30 * time.Second
	}

	return &Cache[V]{
		name:  cfg.Name,
		store: expirable.NewLRU[string, entry[V]](cfg.MaxEntries, nil, residency),
		gate:  semaphore.NewWeighted(cfg.MaxInflight),
		ttl:   cfg.DefaultTTL,
		now:   cfg.Now,
	}
}

// Get returns the live value for key. Expired entries are never returned.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	e, ok := c.store.Get(key)
	if !ok || !c.now().Before(e.expiresAt) {
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for ttl (the default when ttl <= 0).
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.store.Add(key, entry[V]{value: value, expiresAt: c.now().Add(ttl)})
}

// Len is the number of stored entries, including ones not yet reclaimed.
func (c *Cache[V]) Len() int { return c.store.Len() }

// Inflight is the number of loaders currently running.
func (c *Cache[V]) Inflight() int64 { return c.inflight.Load() }

// Do returns the live value for key or computes it. Concurrent callers for the
// same key share one computation. When the gate is full the busy value is
// stored and returned without waiting. The loader runs detached from the
// leader's cancellation; each caller stops waiting when its own ctx ends.
// With bypass set the store is not consulted, but the result is still stored.
func (c *Cache[V]) Do(ctx context.Context, key string, bypass bool, load LoadFunc[V], busy BusyFunc[V]) (V, Outcome, error) {
	var zero V

	if !bypass {
		if v, ok := c.Get(key); ok {
			lookups.WithLabelValues(c.name, "hit").Inc()
			return v, Hit, nil
		}
	}

	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		// The previous flight may have stored a value after our first look.
		if !bypass {
			if v, ok := c.Get(key); ok {
				return flightResult[V]{value: v, outcome: Hit}, nil
			}
		}

		if !c.gate.TryAcquire(1) {
			v, ttl := busy()
			c.Set(key, v, ttl)
			return flightResult[V]{value: v, outcome: Busy}, nil
		}
		return c.runLoader(detached, key, load)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			lookups.WithLabelValues(c.name, "error").Inc()
			return zero, Computed, r.Err
		}
		res := r.Val.(flightResult[V])
		switch {
		case res.outcome == Busy:
			lookups.WithLabelValues(c.name, "busy").Inc()
		case res.outcome == Hit:
			lookups.WithLabelValues(c.name, "hit").Inc()
		case r.Shared:
			lookups.WithLabelValues(c.name, "shared").Inc()
		default:
			lookups.WithLabelValues(c.name, "miss").Inc()
		}
		return res.value, res.outcome, nil
	case <-ctx.Done():
		return zero, Computed, ctx.Err()
	}
}

// runLoader holds one gate slot for the duration of load and releases it
// exactly once, whatever load does.
func (c *Cache[V]) runLoader(ctx context.Context, key string, load LoadFunc[V]) (res any, err error) {
	c.inflight.Add(1)
	inflightGauge.WithLabelValues(c.name).Inc()
	defer func() {
		c.inflight.Add(-1)
		inflightGauge.WithLabelValues(c.name).Dec()
		c.gate.Release(1)
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("respcache: loader for %q panicked: %v", key, p)
		}
	}()

	v, ttl, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl)
	return flightResult[V]{value: v, outcome: Computed}, nil
}

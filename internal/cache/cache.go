// Package cache provides a staleness-tolerant fetch cache for producer data.
//
// A value is served from memory while younger than its TTL. After that the
// fetch function runs again; if it fails, the previous value is still served
// until it is older than the maximum staleness, after which the key reports
// unavailable. Refresh is always lazy and synchronous.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Outcome classifies a single Fetch call.
type Outcome string

const (
	OutcomeFresh       Outcome = "fresh"
	OutcomeRefreshed   Outcome = "refreshed"
	OutcomeStale       Outcome = "stale"
	OutcomeUnavailable Outcome = "unavailable"
)

const mirrorTimeout = 2 * time.Second

type entry struct {
	value     any
	fetchedAt time.Time
}

// Cache maps keys to the last successfully fetched value.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	hydrated map[string]bool
	counts   map[Outcome]int64
	flights  singleflight.Group

	now     func() time.Time
	logger  *zap.Logger
	mirror  Mirror
	observe func(Outcome)
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMirror persists successful fetches so a restarted process can still
// fall back to stale data.
func WithMirror(m Mirror) Option {
	return func(c *Cache) { c.mirror = m }
}

// WithObserver registers a callback invoked once per Fetch with its outcome.
func WithObserver(fn func(Outcome)) Option {
	return func(c *Cache) { c.observe = fn }
}

// New creates an empty cache.
func New(logger *zap.Logger, opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[string]*entry),
		hydrated: make(map[string]bool),
		counts:   make(map[Outcome]int64),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the value for key, calling fn only when the cached value is
// older than ttl. A ttl of zero always calls fn. When fn fails, a value
// younger than maxStale is returned instead. The boolean is false when no
// usable value exists; the fetch error itself is logged, not returned.
//
// Concurrent callers of one key share a single in-flight fn call.
func Fetch[T any](c *Cache, key string, ttl, maxStale time.Duration, fn func() (T, error)) (T, bool) {
	var zero T

	if cached, fetchedAt, ok := lookup[T](c, key); ok && c.now().Sub(fetchedAt) < ttl {
		c.record(OutcomeFresh)
		return cached, true
	}

	res, err, _ := c.flights.Do(key, func() (any, error) {
		// Another caller may have refreshed the key while this one waited.
		if cached, fetchedAt, ok := lookup[T](c, key); ok && c.now().Sub(fetchedAt) < ttl {
			return flight[T]{value: cached, fresh: true}, nil
		}

		value, err := fn()
		if err != nil {
			return nil, err
		}
		fetchedAt := c.now()
		c.store(key, value, fetchedAt)
		c.persist(key, value, fetchedAt, max(ttl, maxStale))
		return flight[T]{value: value}, nil
	})
	if err == nil {
		if f, typed := res.(flight[T]); typed {
			if f.fresh {
				c.record(OutcomeFresh)
			} else {
				c.record(OutcomeRefreshed)
			}
			return f.value, true
		}
		err = fmt.Errorf("concurrent fetch of %s produced %T", key, res)
	}

	c.logger.Warn("Fetch failed",
		zap.String("key", key),
		zap.Error(err))

	if cached, fetchedAt, ok := lookup[T](c, key); ok {
		age := c.now().Sub(fetchedAt)
		if maxStale > 0 && age < maxStale {
			c.logger.Info("Serving stale data",
				zap.String("key", key),
				zap.Duration("age", age))
			c.record(OutcomeStale)
			return cached, true
		}
	}

	c.record(OutcomeUnavailable)
	return zero, false
}

// flight is the result shared by callers waiting on one fetch.
type flight[T any] struct {
	value T
	fresh bool
}

// lookup returns the typed in-memory entry, hydrating it from the mirror the
// first time a key is seen. An entry holding a different type is a miss.
func lookup[T any](c *Cache, key string) (T, time.Time, bool) {
	var zero T

	c.mu.Lock()
	e, ok := c.entries[key]
	tryMirror := !ok && c.mirror != nil && !c.hydrated[key]
	if tryMirror {
		c.hydrated[key] = true
	}
	c.mu.Unlock()

	if ok {
		v, typed := e.value.(T)
		if !typed {
			return zero, time.Time{}, false
		}
		return v, e.fetchedAt, true
	}
	if !tryMirror {
		return zero, time.Time{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	rec, found, err := c.mirror.Load(ctx, key)
	if err != nil {
		c.logger.Warn("Failed to load cache mirror entry", zap.String("key", key), zap.Error(err))
		return zero, time.Time{}, false
	}
	if !found {
		return zero, time.Time{}, false
	}

	var v T
	if err := json.Unmarshal(rec.Value, &v); err != nil {
		c.logger.Warn("Discarding unreadable cache mirror entry", zap.String("key", key), zap.Error(err))
		return zero, time.Time{}, false
	}

	c.store(key, v, rec.FetchedAt)
	c.logger.Debug("Hydrated cache entry from mirror",
		zap.String("key", key),
		zap.Time("fetched_at", rec.FetchedAt))
	return v, rec.FetchedAt, true
}

func (c *Cache) store(key string, value any, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.fetchedAt = fetchedAt
		return
	}
	c.entries[key] = &entry{value: value, fetchedAt: fetchedAt}
}

// persist writes to the mirror. Decoded images stay in memory only.
func (c *Cache) persist(key string, value any, fetchedAt time.Time, expiration time.Duration) {
	if c.mirror == nil || expiration <= 0 {
		return
	}
	if _, isImage := value.(image.Image); isImage {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Debug("Value not mirrored", zap.String("key", key), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	if err := c.mirror.Store(ctx, key, Record{Value: raw, FetchedAt: fetchedAt}, expiration); err != nil {
		c.logger.Warn("Failed to write cache mirror entry", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) record(o Outcome) {
	c.mu.Lock()
	c.counts[o]++
	c.mu.Unlock()

	if c.observe != nil {
		c.observe(o)
	}
}

// EntryInfo describes one cached key.
type EntryInfo struct {
	Key       string        `json:"key"`
	FetchedAt time.Time     `json:"fetched_at"`
	Age       time.Duration `json:"age_ns"`
}

// Stats summarizes cache contents and Fetch outcomes since start.
type Stats struct {
	Entries     int         `json:"entries"`
	Fresh       int64       `json:"fresh"`
	Refreshed   int64       `json:"refreshed"`
	Stale       int64       `json:"stale"`
	Unavailable int64       `json:"unavailable"`
	Keys        []EntryInfo `json:"keys"`
}

// Stats returns a snapshot sorted by key.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	s := Stats{
		Entries:     len(c.entries),
		Fresh:       c.counts[OutcomeFresh],
		Refreshed:   c.counts[OutcomeRefreshed],
		Stale:       c.counts[OutcomeStale],
		Unavailable: c.counts[OutcomeUnavailable],
		Keys:        make([]EntryInfo, 0, len(c.entries)),
	}
	for k, e := range c.entries {
		s.Keys = append(s.Keys, EntryInfo{Key: k, FetchedAt: e.fetchedAt, Age: now.Sub(e.fetchedAt)})
	}
	sort.Slice(s.Keys, func(i, j int) bool { return s.Keys[i].Key < s.Keys[j].Key })
	return s
}

package quotes

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"bsewatch/internal/model"
	"bsewatch/internal/observability/metrics"
	logx "bsewatch/pkg/logx"
)

const DefaultTTL = 60 * time.Second

type cacheKey struct {
	symbol, rng, interval string
}

func (k cacheKey) String() string { return k.symbol + "|" + k.rng + "|" + k.interval }

type cacheEntry struct {
	series  *model.Series
	fetched time.Time
}

// Cache memoizes successful fetches for TTL. Failures and empty payloads are
// never stored, and concurrent misses for the same key share one fetch.
// Stale entries are replaced lazily; nothing is evicted otherwise.
type Cache struct {
	src     Source
	ttl     time.Duration
	now     func() time.Time
	log     logx.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	sf      singleflight.Group
}

type CacheOption func(*Cache)

func WithTTL(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithClock(now func() time.Time) CacheOption { return func(c *Cache) { c.now = now } }

func WithLogger(log logx.Logger) CacheOption { return func(c *Cache) { c.log = log } }

func WithMetrics(m *metrics.Metrics) CacheOption { return func(c *Cache) { c.metrics = m } }

func NewCache(src Source, opts ...CacheOption) *Cache {
	c := &Cache{
		src:     src,
		ttl:     DefaultTTL,
		now:     time.Now,
		entries: map[cacheKey]cacheEntry{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetTTL changes the freshness window for subsequent lookups.
func (c *Cache) SetTTL(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.ttl = d
	c.mu.Unlock()
}

// Get returns the series and true, or (nil, false) when the upstream could
// not produce one. Errors never escape.
func (c *Cache) Get(ctx context.Context, symbol, rng, interval string) (*model.Series, bool) {
	k := cacheKey{symbol, rng, interval}

	c.mu.RLock()
	e, ok := c.entries[k]
	fresh := ok && c.now().Sub(e.fetched) < c.ttl
	c.mu.RUnlock()
	if fresh {
		c.metrics.CacheLookup(true)
		return e.series, true
	}
	c.metrics.CacheLookup(false)

	v, err, _ := c.sf.Do(k.String(), func() (any, error) {
		s, err := c.src.Fetch(ctx, symbol, rng, interval)
		if err != nil {
			return nil, err
		}
		if s.Len() == 0 {
			return nil, ErrEmptySeries
		}
		c.mu.Lock()
		c.entries[k] = cacheEntry{series: s, fetched: c.now()}
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		if !errors.Is(err, ErrEmptySeries) {
			c.metrics.FetchError("chart")
		}
		c.log.Debug("quote fetch failed", logx.String("symbol", symbol), logx.String("range", rng),
			logx.String("interval", interval), logx.Err(err))
		return nil, false
	}
	return v.(*model.Series), true
}

// Len reports the number of stored entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quant-signals/internal/logger"
	"quant-signals/internal/metrics"
	"quant-signals/internal/model"
)

// CacheKey identifies one cached load.
type CacheKey struct {
	Source string
	Symbol string
	Start  time.Time
	End    time.Time
}

// String renders the key as "source:symbol:start:end".
func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Source, k.Symbol, k.Start.Format(model.DateLayout), k.End.Format(model.DateLayout))
}

// Cache stores loaded series by key.
type Cache interface {
	// Name labels the backend in logs and metrics.
	Name() string

	// Get returns the cached series and true on a hit.
	Get(ctx context.Context, key CacheKey) (model.PriceSeries, bool, error)

	Put(ctx context.Context, key CacheKey, series model.PriceSeries) error
}

// CachedLoader is a read-through cache in front of a Loader. Caches are
// consulted in order; a hit back-fills the caches before it. Cache failures
// are logged and counted but never fail the load.
type CachedLoader struct {
	source  string
	next    Loader
	caches  []Cache
	metrics *metrics.Metrics
}

// NewCachedLoader wraps next. source namespaces the cache keys so two
// providers never share entries. m may be nil.
func NewCachedLoader(source string, next Loader, m *metrics.Metrics, caches ...Cache) *CachedLoader {
	return &CachedLoader{source: source, next: next, caches: caches, metrics: m}
}

func (c *CachedLoader) Load(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	key := CacheKey{Source: c.source, Symbol: symbol, Start: start, End: end}

	for i, cache := range c.caches {
		series, ok, err := cache.Get(ctx, key)
		if err != nil {
			c.metrics.ObserveCacheError(cache.Name())
			slog.Warn("price cache read failed", append(logger.LogWithRun(ctx),
				"backend", cache.Name(), "key", key.String(), "error", err)...)
			continue
		}
		c.metrics.ObserveCache(cache.Name(), ok)
		if !ok {
			continue
		}
		slog.Debug("price cache hit", append(logger.LogWithRun(ctx),
			"backend", cache.Name(), "key", key.String(), "bars", series.Len())...)
		c.fill(ctx, key, series, c.caches[:i])
		return series, nil
	}

	series, err := c.next.Load(ctx, symbol, start, end)
	if err != nil {
		return model.PriceSeries{}, err
	}
	c.fill(ctx, key, series, c.caches)
	return series, nil
}

func (c *CachedLoader) fill(ctx context.Context, key CacheKey, series model.PriceSeries, caches []Cache) {
	for _, cache := range caches {
		if err := cache.Put(ctx, key, series); err != nil {
			c.metrics.ObserveCacheError(cache.Name())
			slog.Warn("price cache write failed", append(logger.LogWithRun(ctx),
				"backend", cache.Name(), "key", key.String(), "error", err)...)
		}
	}
}

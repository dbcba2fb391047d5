package sqlite

import (
	"context"

	"quant-signals/internal/marketdata"
	"quant-signals/internal/model"
)

// Cache is a persistent marketdata.Cache. A range is served only when the
// exact [start, end) window was stored before.
type Cache struct {
	w *Writer
	r *Reader
}

// NewCache combines a writer and a reader on the same database file.
func NewCache(w *Writer, r *Reader) *Cache {
	return &Cache{w: w, r: r}
}

func (c *Cache) Name() string { return "sqlite" }

func (c *Cache) Get(ctx context.Context, key marketdata.CacheKey) (model.PriceSeries, bool, error) {
	ok, err := c.r.HasRange(ctx, key)
	if err != nil || !ok {
		return model.PriceSeries{}, false, err
	}
	bars, err := c.r.ReadBars(ctx, key.Source, key.Symbol, key.Start, key.End)
	if err != nil {
		return model.PriceSeries{}, false, err
	}
	return model.PriceSeries{Symbol: key.Symbol, Bars: bars}, true, nil
}

func (c *Cache) Put(ctx context.Context, key marketdata.CacheKey, series model.PriceSeries) error {
	return c.w.WriteRange(ctx, key, series.Bars)
}

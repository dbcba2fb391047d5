// Package marketdata loads daily price history for the backtest pipeline.
//
// A Loader fetches bars for one symbol over [start, end). Remote loaders live
// in subpackages (yahoo, smartapi, csvfile); this package holds the shared
// plumbing: normalisation, pair alignment, read-through caching and retries.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"quant-signals/internal/model"
)

// ErrDataUnavailable is returned for unknown instruments and for ranges with
// fewer than two usable observations.
var ErrDataUnavailable = errors.New("price data unavailable")

// MinObservations is the fewest complete bars a loaded series may hold.
const MinObservations = 2

// Source names accepted by the CLI and config.
const (
	SourceYahoo    = "yahoo"
	SourceSmartAPI = "smartapi"
	SourceCSV      = "csv"
)

// Loader fetches the daily bars of symbol with start <= date < end.
type Loader interface {
	Load(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error)

func (f LoaderFunc) Load(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	return f(ctx, symbol, start, end)
}

// Normalize prepares raw provider bars: dates are truncated to the UTC day,
// bars are sorted, duplicate dates keep the last bar seen, bars outside
// [start, end) are dropped. Incomplete bars are kept; callers drop them
// before computing indicators. Fewer than MinObservations complete bars
// is ErrDataUnavailable.
func Normalize(symbol string, bars []model.Bar, start, end time.Time) (model.PriceSeries, error) {
	out := make([]model.Bar, 0, len(bars))
	for _, b := range bars {
		b.Date = model.TruncateDay(b.Date)
		out = append(out, b)
	}
	slices.SortStableFunc(out, func(a, b model.Bar) int { return a.Date.Compare(b.Date) })

	dedup := out[:0]
	for _, b := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Date.Equal(b.Date) {
			dedup[n-1] = b
			continue
		}
		dedup = append(dedup, b)
	}

	series := model.PriceSeries{Symbol: symbol, Bars: dedup}
	if !start.IsZero() || !end.IsZero() {
		series = series.Between(rangeBounds(start, end))
	}

	complete := 0
	for i := range series.Bars {
		if series.Bars[i].Complete() {
			complete++
		}
	}
	if complete < MinObservations {
		return model.PriceSeries{}, fmt.Errorf("%s: %d complete bars between %s and %s: %w",
			symbol, complete, start.Format(model.DateLayout), end.Format(model.DateLayout), ErrDataUnavailable)
	}
	return series, nil
}

// rangeBounds opens up a zero bound.
func rangeBounds(start, end time.Time) (time.Time, time.Time) {
	if end.IsZero() {
		end = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return start, end
}

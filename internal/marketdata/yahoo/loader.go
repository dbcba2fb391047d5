// Package yahoo loads daily bars from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/shopspring/decimal"

	"quant-signals/internal/logger"
	"quant-signals/internal/marketdata"
	"quant-signals/internal/metrics"
	"quant-signals/internal/model"
)

// FetchFunc downloads raw chart bars for symbol over [start, end).
type FetchFunc func(ctx context.Context, symbol string, start, end time.Time) ([]finance.ChartBar, error)

// Config configures the loader.
type Config struct {
	// AdjustPrices rescales open/high/low/close by adjclose/close so that
	// returns include splits and dividends.
	AdjustPrices bool
	Retry        marketdata.RetryConfig
	Metrics      *metrics.Metrics

	// Fetch overrides the chart API call.
	Fetch FetchFunc
}

// Loader implements marketdata.Loader for Yahoo Finance tickers (MU, GLD, UUP).
type Loader struct {
	cfg Config
}

// New creates a Yahoo Finance loader.
func New(cfg Config) *Loader {
	if cfg.Fetch == nil {
		cfg.Fetch = fetchChart
	}
	if cfg.Retry.OnRetry == nil && cfg.Metrics != nil {
		m := cfg.Metrics
		cfg.Retry.OnRetry = func(int, error) { m.ObserveRetry() }
	}
	return &Loader{cfg: cfg}
}

func fetchChart(ctx context.Context, symbol string, start, end time.Time) ([]finance.ChartBar, error) {
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	})

	var bars []finance.ChartBar
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars = append(bars, *iter.Bar())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("chart %s: %w", symbol, err)
	}
	return bars, nil
}

func (l *Loader) Load(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return model.PriceSeries{}, fmt.Errorf("empty symbol: %w", marketdata.ErrDataUnavailable)
	}

	var raw []finance.ChartBar
	err := marketdata.WithRetry(ctx, l.cfg.Retry, func(ctx context.Context) error {
		var err error
		raw, err = l.cfg.Fetch(ctx, symbol, start, end)
		return err
	})
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("yahoo %s: %w", symbol, err)
	}

	bars := make([]model.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, toBar(b, l.cfg.AdjustPrices))
	}
	slog.Debug("yahoo chart loaded", append(logger.LogWithRun(ctx), "symbol", symbol, "bars", len(bars))...)
	return marketdata.Normalize(symbol, bars, start, end)
}

// toBar converts one chart bar. Zero prices mark missing quotes and become
// undefined fields.
func toBar(b finance.ChartBar, adjust bool) model.Bar {
	factor := decimal.NewFromInt(1)
	if adjust && !b.Close.IsZero() && !b.AdjClose.IsZero() {
		factor = b.AdjClose.Div(b.Close)
	}
	price := func(d decimal.Decimal) model.NullFloat {
		if d.IsZero() {
			return model.Null
		}
		return model.Float(d.Mul(factor).InexactFloat64())
	}
	return model.Bar{
		Date:   time.Unix(int64(b.Timestamp), 0).UTC(),
		Open:   price(b.Open),
		High:   price(b.High),
		Low:    price(b.Low),
		Close:  price(b.Close),
		Volume: int64(b.Volume),
	}
}

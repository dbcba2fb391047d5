package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"quant-signals/internal/indicator"
	"quant-signals/internal/logger"
	"quant-signals/internal/marketdata"
	"quant-signals/internal/metrics"
	"quant-signals/internal/model"
	"quant-signals/internal/notification"
	"quant-signals/internal/portfolio"
	"quant-signals/internal/render"
)

// Strategy names used in run IDs, metrics labels and charts.
const (
	StrategyMACD  = "macd"
	StrategyPairs = "pairs"
)

// Runner executes a backtest end to end: load, derive, render, record and
// notify. Only Loader is required.
type Runner struct {
	Loader   marketdata.Loader
	Source   string // label for load metrics
	Renderer render.Renderer
	Recorder model.RunRecorder
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	Summary  portfolio.SummaryConfig

	// Now stamps run IDs and records. Defaults to time.Now.
	Now func() time.Time
}

// MACDRequest selects one instrument and date range.
type MACDRequest struct {
	Symbol string
	Start  time.Time
	End    time.Time
	Params indicator.MACDParams
}

// PairsRequest selects two instruments and a date range.
type PairsRequest struct {
	SymbolA string
	SymbolB string
	Start   time.Time
	End     time.Time
	Params  PairsParams
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) summaryConfig() portfolio.SummaryConfig {
	if r.Summary.PeriodsPerYear <= 0 {
		return portfolio.DefaultSummaryConfig
	}
	return r.Summary
}

// MACD runs the momentum backtest.
func (r *Runner) MACD(ctx context.Context, req MACDRequest) (res *MACDResult, err error) {
	started := r.now()
	runID := logger.GenerateRunID(StrategyMACD, started)
	ctx = logger.WithRunID(ctx, runID)
	title := fmt.Sprintf("macd %s", req.Symbol)
	defer func() { r.finish(ctx, StrategyMACD, title, err) }()

	slog.Info("backtest started", append(logger.LogWithRun(ctx),
		"strategy", StrategyMACD, "symbol", req.Symbol,
		"start", req.Start.Format(model.DateLayout), "end", req.End.Format(model.DateLayout))...)

	series, err := r.load(ctx, req.Symbol, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	t0 := time.Now()
	res, err = RunMACD(series, req.Params, r.summaryConfig())
	if err != nil {
		return nil, err
	}
	r.Metrics.ObserveCompute(StrategyMACD, time.Since(t0), len(res.Rows))
	r.Metrics.ObserveCrossovers(res.Buys, res.Sells)

	if err := r.publish(ctx, MACDChart(res, runID)); err != nil {
		return nil, err
	}
	r.record(ctx, model.RunRecord{
		RunID:    runID,
		Strategy: StrategyMACD,
		Symbols:  []string{req.Symbol},
		Start:    req.Start,
		End:      req.End,
		Params:   req.Params,
		Summary:  map[string]portfolio.Summary{"strategy": res.Strategy, "buy_and_hold": res.BuyHold},
		Rows:     len(res.Rows),
		Created:  started,
	})

	slog.Info("backtest finished", append(logger.LogWithRun(ctx),
		"rows", len(res.Rows), "buys", res.Buys, "sells", res.Sells,
		"total_return", res.Strategy.TotalReturn, "buy_hold_return", res.BuyHold.TotalReturn,
		"sharpe", res.Strategy.Sharpe)...)

	r.notify(ctx, notification.Alert{
		Level:   notification.AlertInfo,
		Title:   title + " completed",
		Message: fmt.Sprintf("strategy %.2f%% vs buy&hold %.2f%% over %d rows", res.Strategy.TotalReturn*100, res.BuyHold.TotalReturn*100, len(res.Rows)),
		Fields: map[string]string{
			"buys":         strconv.Itoa(res.Buys),
			"sells":        strconv.Itoa(res.Sells),
			"sharpe":       strconv.FormatFloat(res.Strategy.Sharpe, 'f', 2, 64),
			"max_drawdown": strconv.FormatFloat(res.Strategy.MaxDrawdown, 'f', 4, 64),
		},
	})
	return res, nil
}

// Pairs runs the correlation pairs backtest.
func (r *Runner) Pairs(ctx context.Context, req PairsRequest) (res *PairsResult, err error) {
	started := r.now()
	runID := logger.GenerateRunID(StrategyPairs, started)
	ctx = logger.WithRunID(ctx, runID)
	title := fmt.Sprintf("pairs %s/%s", req.SymbolA, req.SymbolB)
	defer func() { r.finish(ctx, StrategyPairs, title, err) }()

	slog.Info("backtest started", append(logger.LogWithRun(ctx),
		"strategy", StrategyPairs, "symbol_a", req.SymbolA, "symbol_b", req.SymbolB,
		"start", req.Start.Format(model.DateLayout), "end", req.End.Format(model.DateLayout),
		"window", req.Params.Window, "threshold", req.Params.Threshold)...)

	a, b, err := r.loadPair(ctx, req)
	if err != nil {
		return nil, err
	}
	frame, err := marketdata.Align(a, b)
	if err != nil {
		return nil, err
	}

	t0 := time.Now()
	res, err = RunPairs(frame, req.Params, r.summaryConfig())
	if err != nil {
		return nil, err
	}
	r.Metrics.ObserveCompute(StrategyPairs, time.Since(t0), len(res.Rows))
	for _, row := range res.Rows {
		r.Metrics.ObservePairSignal(string(row.Signal), row.Unhandled)
	}

	if res.Unhandled > 0 {
		slog.Warn("pair rows matched no trade rule", append(logger.LogWithRun(ctx),
			"count", res.Unhandled, "policy", string(res.Params.GapPolicy))...)
		r.notify(ctx, notification.Alert{
			Level:   notification.AlertWarning,
			Title:   title + " unhandled rows",
			Message: fmt.Sprintf("%d rows qualified for a trade with zero returns and were treated as no_trade", res.Unhandled),
			Fields:  map[string]string{"unhandled": strconv.Itoa(res.Unhandled)},
		})
	}

	if err := r.publish(ctx, PairsChart(res, runID)); err != nil {
		return nil, err
	}
	r.record(ctx, model.RunRecord{
		RunID:    runID,
		Strategy: StrategyPairs,
		Symbols:  []string{req.SymbolA, req.SymbolB},
		Start:    req.Start,
		End:      req.End,
		Params:   res.Params,
		Summary:  res.Summary,
		Rows:     len(res.Rows),
		Created:  started,
	})

	slog.Info("backtest finished", append(logger.LogWithRun(ctx),
		"rows", len(res.Rows), "trades", res.Trades(), "unhandled", res.Unhandled,
		"total_return", res.Summary.TotalReturn, "sharpe", res.Summary.Sharpe)...)

	r.notify(ctx, notification.Alert{
		Level:   notification.AlertInfo,
		Title:   title + " completed",
		Message: fmt.Sprintf("cumulative P&L %.2f%% from %d trades over %d rows", res.Summary.TotalReturn*100, res.Trades(), len(res.Rows)),
		Fields: map[string]string{
			"trades":       strconv.Itoa(res.Trades()),
			"sharpe":       strconv.FormatFloat(res.Summary.Sharpe, 'f', 2, 64),
			"max_drawdown": strconv.FormatFloat(res.Summary.MaxDrawdown, 'f', 4, 64),
		},
	})
	return res, nil
}

func (r *Runner) load(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	t0 := time.Now()
	series, err := r.Loader.Load(ctx, symbol, start, end)
	r.Metrics.ObserveLoad(r.Source, time.Since(t0))
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("load %s: %w", symbol, err)
	}
	slog.Debug("prices loaded", append(logger.LogWithRun(ctx), "symbol", symbol, "bars", series.Len())...)
	return series, nil
}

// loadPair fetches both legs concurrently.
func (r *Runner) loadPair(ctx context.Context, req PairsRequest) (model.PriceSeries, model.PriceSeries, error) {
	var (
		wg         sync.WaitGroup
		a, b       model.PriceSeries
		errA, errB error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		a, errA = r.load(ctx, req.SymbolA, req.Start, req.End)
	}()
	go func() {
		defer wg.Done()
		b, errB = r.load(ctx, req.SymbolB, req.Start, req.End)
	}()
	wg.Wait()

	if errA != nil {
		return a, b, errA
	}
	return a, b, errB
}

func (r *Runner) publish(ctx context.Context, chart render.Chart) error {
	if r.Renderer == nil {
		return nil
	}
	if err := r.Renderer.Render(ctx, chart); err != nil {
		return fmt.Errorf("render %s: %w", chart.Strategy, err)
	}
	return nil
}

// record persists the run; a failure is logged and does not fail the run.
func (r *Runner) record(ctx context.Context, rec model.RunRecord) {
	if r.Recorder == nil {
		return
	}
	if err := r.Recorder.SaveRun(ctx, rec); err != nil {
		slog.Warn("run record not saved", append(logger.LogWithRun(ctx), "error", err)...)
	}
}

func (r *Runner) notify(ctx context.Context, alert notification.Alert) {
	if r.Notifier == nil {
		return
	}
	alert.RunID = logger.RunID(ctx)
	if err := r.Notifier.Send(ctx, alert); err != nil {
		slog.Warn("alert not delivered", append(logger.LogWithRun(ctx), "title", alert.Title, "error", err)...)
	}
}

func (r *Runner) finish(ctx context.Context, strategy, title string, err error) {
	r.Metrics.ObserveRun(strategy, err)
	if r.Health != nil {
		r.Health.SetLastRun(err == nil)
	}
	if err == nil {
		return
	}
	slog.Error("backtest failed", append(logger.LogWithRun(ctx), "strategy", strategy, "error", err)...)
	r.notify(ctx, notification.Alert{
		Level:   notification.AlertCritical,
		Title:   title + " failed",
		Message: err.Error(),
	})
}

package backtest

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"quant-signals/internal/indicator"
	"quant-signals/internal/marketdata"
	"quant-signals/internal/metrics"
	"quant-signals/internal/model"
	"quant-signals/internal/notification"
	"quant-signals/internal/portfolio"
	"quant-signals/internal/render"
	"quant-signals/internal/strategy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.9f, want %.9f", label, got, want)
	}
}

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seriesOf(symbol string, closes ...float64) model.PriceSeries {
	s := model.PriceSeries{Symbol: symbol}
	for i, c := range closes {
		p := model.Float(c)
		s.Bars = append(s.Bars, model.Bar{Date: day0.AddDate(0, 0, i), Open: p, High: p, Low: p, Close: p})
	}
	return s
}

func frameOf(a, b []float64) model.PairFrame {
	f := model.PairFrame{SymbolA: "A", SymbolB: "B", CloseA: a, CloseB: b}
	for i := range a {
		f.Dates = append(f.Dates, day0.AddDate(0, 0, i))
	}
	return f
}

func rising(n int) []float64 {
	out := make([]float64, n)
	p := 100.0
	for i := range out {
		out[i] = p
		p *= 1.01
	}
	return out
}

func flat(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100
	}
	return out
}

// ────────────────────────────────────────────────────────────
// MACD pipeline
// ────────────────────────────────────────────────────────────

func TestRunMACD_RisingSeries(t *testing.T) {
	res, err := RunMACD(seriesOf("UP", rising(30)...), indicator.DefaultMACDParams, portfolio.DefaultSummaryConfig)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 30 {
		t.Fatalf("rows = %d", len(res.Rows))
	}

	entry := -1
	for i := 1; i < len(res.Rows); i++ {
		r, prev := res.Rows[i], res.Rows[i-1]
		if r.FastEMA <= prev.FastEMA || r.SlowEMA <= prev.SlowEMA {
			t.Errorf("row %d: EMAs must rise", i)
		}
		if r.Position == model.Long && entry < 0 {
			entry = i
		}
		if entry >= 0 && r.Position != model.Long {
			t.Errorf("row %d: position left long after entry", i)
		}
	}
	if entry < 0 || res.Rows[len(res.Rows)-1].Position != model.Long {
		t.Fatal("position never settled long")
	}
	if res.Sells != 0 {
		t.Errorf("sells = %d", res.Sells)
	}

	// From the entry on, the strategy compounds exactly like buy&hold.
	base := res.Rows[entry]
	for _, r := range res.Rows[entry+1:] {
		stratGrowth := r.CumulativeStrategyReturn.Float64 / base.CumulativeStrategyReturn.Float64
		holdGrowth := r.CumulativeReturn.Float64 / base.CumulativeReturn.Float64
		if stratGrowth < holdGrowth-1e-12 {
			t.Errorf("%s: strategy growth %.6f below buy&hold %.6f", r.Date.Format(model.DateLayout), stratGrowth, holdGrowth)
		}
	}
	if res.Strategy.TotalReturn <= 0 {
		t.Errorf("strategy total return = %v", res.Strategy.TotalReturn)
	}
}

func TestRunMACD_FirstRowAndLag(t *testing.T) {
	res, err := RunMACD(seriesOf("X", 10, 11, 10, 12, 9, 13), indicator.MACDParams{Fast: 2, Slow: 3, Signal: 2}, portfolio.DefaultSummaryConfig)
	if err != nil {
		t.Fatal(err)
	}
	first := res.Rows[0]
	if first.Return.Valid || first.StrategyReturn.Valid || first.CumulativeReturn.Valid {
		t.Errorf("first row returns must be undefined: %+v", first)
	}
	if first.Crossover != model.NoCrossover {
		t.Errorf("first row crossover = %v", first.Crossover)
	}
	for i := 1; i < len(res.Rows); i++ {
		want := float64(res.Rows[i-1].Position) * res.Rows[i].Return.Float64
		assertClose(t, "lagged strategy return", res.Rows[i].StrategyReturn.Float64, want, 1e-12)
	}
}

func TestRunMACD_DropsIncompleteBars(t *testing.T) {
	s := seriesOf("X", 10, 11, 12, 13)
	s.Bars[1].High = model.Null
	res, err := RunMACD(s, indicator.MACDParams{Fast: 2, Slow: 3, Signal: 2}, portfolio.DefaultSummaryConfig)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 3 {
		t.Errorf("expected the incomplete bar dropped, got %d rows", len(res.Rows))
	}
}

func TestRunMACD_Errors(t *testing.T) {
	if _, err := RunMACD(model.PriceSeries{Symbol: "E"}, indicator.DefaultMACDParams, portfolio.DefaultSummaryConfig); !errors.Is(err, indicator.ErrEmptySeries) {
		t.Errorf("empty: %v", err)
	}
	bad := indicator.MACDParams{Fast: 26, Slow: 12, Signal: 9}
	if _, err := RunMACD(seriesOf("X", 1, 2), bad, portfolio.DefaultSummaryConfig); !errors.Is(err, indicator.ErrInvalidPeriod) {
		t.Errorf("bad params: %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Pairs pipeline
// ────────────────────────────────────────────────────────────

func TestRunPairs_FlatPairNeverTrades(t *testing.T) {
	res, err := RunPairs(frameOf(flat(80), flat(80)), DefaultPairsParams, portfolio.DefaultSummaryConfig)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 79 {
		t.Fatalf("rows = %d, want 79 (first return dropped)", len(res.Rows))
	}
	for _, r := range res.Rows {
		if r.Signal != model.NoTrade || r.Unhandled {
			t.Fatalf("%s: signal %s", r.Date.Format(model.DateLayout), r.Signal)
		}
		if !r.PnL.Valid || r.PnL.Float64 != 0 {
			t.Fatalf("%s: pnl %v", r.Date.Format(model.DateLayout), r.PnL)
		}
		if !r.CumPnL.Valid || r.CumPnL.Float64 != 1 {
			t.Fatalf("%s: cum_pnl %v", r.Date.Format(model.DateLayout), r.CumPnL)
		}
	}
	if res.Trades() != 0 || res.Summary.TotalReturn != 0 {
		t.Errorf("trades=%d total=%v", res.Trades(), res.Summary.TotalReturn)
	}
}

func TestRunPairs_TradeAndPnL(t *testing.T) {
	// Returns A: +2%, -2%, +1%, +1%; B: -2%, +2%, +0.5%, +3%.
	// Row 2 sees corr ~ -0.91 with both legs up and A ahead: short A, long B.
	a := []float64{100, 102, 99.96, 100.9596, 101.969196}
	b := []float64{100, 98, 99.96, 100.4598, 103.473594}
	p := PairsParams{Window: 3, Threshold: -0.5}

	res, err := RunPairs(frameOf(a, b), p, portfolio.DefaultSummaryConfig)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 4 {
		t.Fatalf("rows = %d", len(res.Rows))
	}
	if res.Rows[0].Corr.Valid || res.Rows[1].Corr.Valid {
		t.Error("warm-up rows must have undefined correlation")
	}

	trade := res.Rows[2]
	if trade.Signal != model.ShortALongB || !trade.StrongCorr || !trade.SameDirection {
		t.Fatalf("row 2 = %+v", trade)
	}
	assertClose(t, "pnl", trade.PnL.Float64, -0.01+0.03, 1e-9)
	assertClose(t, "cum_pnl", res.Rows[3].CumPnL.Float64, 1.02, 1e-9)

	last := res.Rows[3]
	if last.Signal != model.NoTrade || last.NextReturnA.Valid || last.PnL.Float64 != 0 {
		t.Errorf("last row = %+v", last)
	}
	if res.Trades() != 1 || res.Signals[model.ShortALongB] != 1 {
		t.Errorf("signals = %v", res.Signals)
	}
}

// gapFrame ends on a row where both legs are unchanged inside a strongly
// negative correlation window.
func gapFrame() model.PairFrame {
	return frameOf(
		[]float64{100, 101, 99.99, 101.9898, 101.9898},
		[]float64{100, 99, 99.99, 97.9902, 97.9902},
	)
}

func TestRunPairs_GapPolicyNoTrade(t *testing.T) {
	res, err := RunPairs(gapFrame(), PairsParams{Window: 3, Threshold: -0.5, GapPolicy: strategy.GapNoTrade}, portfolio.DefaultSummaryConfig)
	if err != nil {
		t.Fatal(err)
	}
	last := res.Rows[len(res.Rows)-1]
	if !last.Unhandled || last.Signal != model.NoTrade || last.PnL.Float64 != 0 {
		t.Errorf("gap row = %+v", last)
	}
	if res.Unhandled != 1 {
		t.Errorf("unhandled = %d", res.Unhandled)
	}
}

func TestRunPairs_GapPolicyError(t *testing.T) {
	_, err := RunPairs(gapFrame(), PairsParams{Window: 3, Threshold: -0.5, GapPolicy: strategy.GapError}, portfolio.DefaultSummaryConfig)
	if !errors.Is(err, strategy.ErrUnhandledPairRow) {
		t.Errorf("expected ErrUnhandledPairRow, got %v", err)
	}
}

func TestRunPairs_InvalidWindow(t *testing.T) {
	_, err := RunPairs(frameOf(flat(5), flat(5)), PairsParams{Window: 1}, portfolio.DefaultSummaryConfig)
	if !errors.Is(err, indicator.ErrInvalidPeriod) {
		t.Errorf("got %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Charts
// ────────────────────────────────────────────────────────────

func TestMACDChart_Panels(t *testing.T) {
	closes := []float64{10, 9, 8, 7, 8, 10, 12, 11, 9, 7, 6}
	res, err := RunMACD(seriesOf("X", closes...), indicator.MACDParams{Fast: 2, Slow: 4, Signal: 2}, portfolio.DefaultSummaryConfig)
	if err != nil {
		t.Fatal(err)
	}
	chart := MACDChart(res, "run-1")
	for _, name := range []string{PanelPrice, PanelMACD, PanelPerformance} {
		p, ok := chart.Panel(name)
		if !ok {
			t.Fatalf("missing panel %s", name)
		}
		if len(p.Dates) != len(closes) {
			t.Errorf("%s: %d dates", name, len(p.Dates))
		}
	}
	price, _ := chart.Panel(PanelPrice)
	if len(price.Markers) != res.Buys+res.Sells {
		t.Errorf("markers = %d, crossovers = %d", len(price.Markers), res.Buys+res.Sells)
	}
	if chart.Summary == nil || chart.RunID != "run-1" || chart.Strategy != StrategyMACD {
		t.Errorf("chart header = %+v", chart)
	}
}

func TestPairsChart_Threshold(t *testing.T) {
	res, err := RunPairs(frameOf(flat(10), flat(10)), PairsParams{Window: 3, Threshold: -0.7}, portfolio.DefaultSummaryConfig)
	if err != nil {
		t.Fatal(err)
	}
	chart := PairsChart(res, "r")
	p, ok := chart.Panel(PanelCorrelation)
	if !ok || len(p.HLines) != 1 || p.HLines[0].Value != -0.7 {
		t.Errorf("correlation panel = %+v", p)
	}
}

// ────────────────────────────────────────────────────────────
// Runner
// ────────────────────────────────────────────────────────────

type fakeRecorder struct {
	mu   sync.Mutex
	runs []model.RunRecord
}

func (f *fakeRecorder) SaveRun(_ context.Context, rec model.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, rec)
	return nil
}

type fakeNotifier struct{ alerts []notification.Alert }

func (f *fakeNotifier) Send(_ context.Context, a notification.Alert) error {
	f.alerts = append(f.alerts, a)
	return nil
}

func mapLoader(series ...model.PriceSeries) marketdata.Loader {
	bySymbol := make(map[string]model.PriceSeries, len(series))
	for _, s := range series {
		bySymbol[s.Symbol] = s
	}
	return marketdata.LoaderFunc(func(_ context.Context, symbol string, _, _ time.Time) (model.PriceSeries, error) {
		s, ok := bySymbol[symbol]
		if !ok {
			return model.PriceSeries{}, marketdata.ErrDataUnavailable
		}
		return s, nil
	})
}

func TestRunner_MACDEndToEnd(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	rec := &fakeRecorder{}
	notes := &fakeNotifier{}
	var charts []render.Chart

	r := &Runner{
		Loader:   mapLoader(seriesOf("MU", rising(40)...)),
		Source:   "test",
		Renderer: render.RendererFunc(func(_ context.Context, c render.Chart) error { charts = append(charts, c); return nil }),
		Recorder: rec,
		Notifier: notes,
		Metrics:  m,
		Health:   metrics.NewHealthStatus(),
		Now:      func() time.Time { return time.Unix(1700000000, 0) },
	}
	res, err := r.MACD(context.Background(), MACDRequest{Symbol: "MU", Start: day0, End: day0.AddDate(0, 2, 0), Params: indicator.DefaultMACDParams})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 40 {
		t.Errorf("rows = %d", len(res.Rows))
	}
	if len(charts) != 1 || charts[0].RunID != "macd-1700000000000000000" {
		t.Errorf("charts = %+v", charts)
	}
	if len(rec.runs) != 1 || rec.runs[0].Rows != 40 || rec.runs[0].Symbols[0] != "MU" {
		t.Errorf("runs = %+v", rec.runs)
	}
	if len(notes.alerts) != 1 || notes.alerts[0].Level != notification.AlertInfo || notes.alerts[0].RunID == "" {
		t.Errorf("alerts = %+v", notes.alerts)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues(StrategyMACD, "ok")); got != 1 {
		t.Errorf("ok runs = %v", got)
	}
}

func TestRunner_PairsUnhandledWarns(t *testing.T) {
	frame := gapFrame()
	a := seriesOf("GLD", frame.CloseA...)
	b := seriesOf("UUP", frame.CloseB...)
	notes := &fakeNotifier{}
	m := metrics.NewMetrics(prometheus.NewRegistry())

	r := &Runner{Loader: mapLoader(a, b), Notifier: notes, Metrics: m}
	res, err := r.Pairs(context.Background(), PairsRequest{
		SymbolA: "GLD", SymbolB: "UUP", Start: day0, End: day0.AddDate(0, 1, 0),
		Params: PairsParams{Window: 3, Threshold: -0.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Unhandled != 1 {
		t.Errorf("unhandled = %d", res.Unhandled)
	}
	levels := make([]notification.AlertLevel, len(notes.alerts))
	for i, a := range notes.alerts {
		levels[i] = a.Level
	}
	if len(levels) != 2 || levels[0] != notification.AlertWarning || levels[1] != notification.AlertInfo {
		t.Errorf("alert levels = %v", levels)
	}
	if got := testutil.ToFloat64(m.UnhandledPairRows); got != 1 {
		t.Errorf("unhandled metric = %v", got)
	}
}

func TestRunner_LoadFailureIsCritical(t *testing.T) {
	notes := &fakeNotifier{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	r := &Runner{Loader: mapLoader(), Notifier: notes, Metrics: m}

	_, err := r.MACD(context.Background(), MACDRequest{Symbol: "NOPE", Start: day0, End: day0.AddDate(1, 0, 0), Params: indicator.DefaultMACDParams})
	if !errors.Is(err, marketdata.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if len(notes.alerts) != 1 || notes.alerts[0].Level != notification.AlertCritical {
		t.Errorf("alerts = %+v", notes.alerts)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues(StrategyMACD, "error")); got != 1 {
		t.Errorf("error runs = %v", got)
	}
}

func TestRunner_PairsRenderFailure(t *testing.T) {
	errRender := errors.New("disk full")
	r := &Runner{
		Loader:   mapLoader(seriesOf("A", flat(10)...), seriesOf("B", flat(10)...)),
		Renderer: render.RendererFunc(func(context.Context, render.Chart) error { return errRender }),
	}
	_, err := r.Pairs(context.Background(), PairsRequest{SymbolA: "A", SymbolB: "B", Start: day0, End: day0.AddDate(0, 1, 0), Params: PairsParams{Window: 3, Threshold: -0.5}})
	if !errors.Is(err, errRender) {
		t.Errorf("expected render error, got %v", err)
	}
}

package backtest

import (
	"fmt"

	"quant-signals/internal/indicator"
	"quant-signals/internal/marketdata"
	"quant-signals/internal/model"
	"quant-signals/internal/portfolio"
	"quant-signals/internal/strategy"
)

// PairsParams configures the pairs pipeline.
type PairsParams struct {
	Window    int                `json:"window"`
	Threshold float64            `json:"threshold"`
	GapPolicy strategy.GapPolicy `json:"gap_policy"`
}

// DefaultPairsParams is a 60 row window with a -0.5 threshold.
var DefaultPairsParams = PairsParams{
	Window:    60,
	Threshold: strategy.DefaultCorrThreshold,
	GapPolicy: strategy.GapNoTrade,
}

// PairsResult is the derived pairs table and its performance.
type PairsResult struct {
	SymbolA string
	SymbolB string
	Params  PairsParams
	Rows    []model.PairRow

	// Signals counts rows per trade signal.
	Signals map[model.TradeSignal]int

	// Unhandled counts rows resolved by the no_trade gap policy.
	Unhandled int

	Summary portfolio.Summary
}

// Trades returns the number of rows with a signal other than no_trade.
func (r *PairsResult) Trades() int {
	return len(r.Rows) - r.Signals[model.NoTrade]
}

// RunPairs derives the pairs table from an aligned frame. Rows start at the
// first date with a defined return on both sides; a trade decided on day t
// earns the legs' returns of day t+1.
func RunPairs(frame model.PairFrame, p PairsParams, sc portfolio.SummaryConfig) (*PairsResult, error) {
	if p.Window < 2 {
		return nil, fmt.Errorf("window=%d: %w", p.Window, indicator.ErrInvalidPeriod)
	}
	if p.GapPolicy == "" {
		p.GapPolicy = strategy.GapNoTrade
	}

	retA := portfolio.PctChange(frame.CloseA)
	retB := portfolio.PctChange(frame.CloseB)

	n := frame.Len()
	rows := make([]model.PairRow, 0, n)
	a := make([]model.NullFloat, 0, n)
	b := make([]model.NullFloat, 0, n)
	for i := 0; i < n; i++ {
		if !retA[i].Valid || !retB[i].Valid {
			continue
		}
		rows = append(rows, model.PairRow{Date: frame.Dates[i], ReturnA: retA[i].Float64, ReturnB: retB[i].Float64})
		a = append(a, retA[i])
		b = append(b, retB[i])
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s/%s: no defined returns: %w", frame.SymbolA, frame.SymbolB, marketdata.ErrDataUnavailable)
	}

	corr := indicator.RollingCorrelationSeries(a, b, p.Window)
	res := &PairsResult{
		SymbolA: frame.SymbolA,
		SymbolB: frame.SymbolB,
		Params:  p,
		Signals: make(map[model.TradeSignal]int, len(model.TradeSignals)),
	}

	signals := make([]model.TradeSignal, len(rows))
	for i := range rows {
		r := &rows[i]
		d := strategy.ClassifyPair(strategy.PairInput{
			ReturnA:   r.ReturnA,
			ReturnB:   r.ReturnB,
			Corr:      corr[i],
			Threshold: p.Threshold,
		})
		d, err := p.GapPolicy.Resolve(d, r.Date)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", frame.SymbolA, frame.SymbolB, err)
		}

		r.Corr = corr[i]
		r.SameDirection = d.SameDirection
		r.StrongCorr = d.StrongCorr
		r.Signal = d.Signal
		r.Unhandled = d.Unhandled
		signals[i] = d.Signal

		res.Signals[d.Signal]++
		if d.Unhandled {
			res.Unhandled++
		}
	}

	nextA := portfolio.ShiftForward(a)
	nextB := portfolio.ShiftForward(b)
	pnl := portfolio.PairPnL(signals, nextA, nextB)
	cum := portfolio.CumProd(pnl)
	for i := range rows {
		rows[i].NextReturnA = nextA[i]
		rows[i].NextReturnB = nextB[i]
		rows[i].PnL = pnl[i]
		rows[i].CumPnL = cum[i]
	}

	res.Rows = rows
	res.Summary = portfolio.Summarize(pnl, sc)
	return res, nil
}

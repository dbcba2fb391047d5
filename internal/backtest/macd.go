// Package backtest wires the indicator, signal and return stages into the
// MACD and pairs pipelines, and runs them end to end with loading,
// rendering, persistence and alerts.
package backtest

import (
	"fmt"

	"quant-signals/internal/indicator"
	"quant-signals/internal/model"
	"quant-signals/internal/portfolio"
	"quant-signals/internal/strategy"
)

// MACDResult is the derived MACD table and its performance.
type MACDResult struct {
	Symbol string
	Params indicator.MACDParams
	Rows   []model.MACDRow

	Buys  int
	Sells int

	BuyHold  portfolio.Summary
	Strategy portfolio.Summary
}

// RunMACD derives the MACD momentum table from series. Incomplete bars are
// dropped first; the position held after day t earns day t+1's return.
func RunMACD(series model.PriceSeries, p indicator.MACDParams, sc portfolio.SummaryConfig) (*MACDResult, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}
	clean := series.DropIncomplete()
	closes := clean.Closes()

	cols, err := indicator.MACD(closes, p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", series.Symbol, err)
	}

	positions := strategy.Positions(cols.MACD, cols.Signal)
	events := strategy.Crossovers(positions)
	returns := portfolio.PctChange(closes)
	stratReturns := portfolio.LaggedProduct(positions, returns)
	cum := portfolio.CumProd(returns)
	cumStrat := portfolio.CumProd(stratReturns)

	rows := make([]model.MACDRow, len(closes))
	for i, b := range clean.Bars {
		rows[i] = model.MACDRow{
			Date:                     b.Date,
			Close:                    closes[i],
			FastEMA:                  cols.FastEMA[i],
			SlowEMA:                  cols.SlowEMA[i],
			MACD:                     cols.MACD[i],
			Signal:                   cols.Signal[i],
			Histogram:                cols.Histogram[i],
			Position:                 positions[i],
			Crossover:                events[i],
			Return:                   returns[i],
			StrategyReturn:           stratReturns[i],
			CumulativeReturn:         cum[i],
			CumulativeStrategyReturn: cumStrat[i],
		}
	}

	buys, sells := strategy.CountCrossovers(events)
	return &MACDResult{
		Symbol:   series.Symbol,
		Params:   p,
		Rows:     rows,
		Buys:     buys,
		Sells:    sells,
		BuyHold:  portfolio.Summarize(returns, sc),
		Strategy: portfolio.Summarize(stratReturns, sc),
	}, nil
}

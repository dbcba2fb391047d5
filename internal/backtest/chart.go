package backtest

import (
	"fmt"
	"strconv"
	"time"

	"quant-signals/internal/model"
	"quant-signals/internal/render"
)

// Panel names shared by the chart builders and renderers.
const (
	PanelPrice       = "price"
	PanelMACD        = "macd"
	PanelPerformance = "performance"
	PanelCorrelation = "correlation"
)

// MACDChart builds the three MACD panels: close with crossover markers,
// the indicator lines around zero, and buy&hold against the strategy.
func MACDChart(res *MACDResult, runID string) render.Chart {
	n := len(res.Rows)
	dates := make([]time.Time, n)
	closes := make([]model.NullFloat, n)
	macd := make([]model.NullFloat, n)
	signal := make([]model.NullFloat, n)
	hist := make([]model.NullFloat, n)
	hold := make([]model.NullFloat, n)
	strat := make([]model.NullFloat, n)
	var markers []render.Marker

	for i, r := range res.Rows {
		dates[i] = r.Date
		closes[i] = model.Float(r.Close)
		macd[i] = model.Float(r.MACD)
		signal[i] = model.Float(r.Signal)
		hist[i] = model.Float(r.Histogram)
		hold[i] = r.CumulativeReturn
		strat[i] = r.CumulativeStrategyReturn

		switch r.Crossover {
		case model.Buy:
			markers = append(markers, render.Marker{Date: r.Date, Value: r.Close, Kind: render.MarkerBuy})
		case model.Sell:
			markers = append(markers, render.Marker{Date: r.Date, Value: r.Close, Kind: render.MarkerSell})
		}
	}

	summary := res.Strategy
	return render.Chart{
		RunID:    runID,
		Title:    fmt.Sprintf("%s MACD %d/%d/%d", res.Symbol, res.Params.Fast, res.Params.Slow, res.Params.Signal),
		Strategy: StrategyMACD,
		Panels: []render.Panel{
			{
				Name:    PanelPrice,
				Dates:   dates,
				Series:  []render.Series{{Name: "close", Values: closes}},
				Markers: markers,
			},
			{
				Name:  PanelMACD,
				Dates: dates,
				Series: []render.Series{
					{Name: "macd", Values: macd},
					{Name: "signal", Values: signal},
					{Name: "histogram", Values: hist},
				},
				HLines: []render.HLine{{Name: "zero", Value: 0}},
			},
			{
				Name:  PanelPerformance,
				Dates: dates,
				Series: []render.Series{
					{Name: "buy_and_hold", Values: hold},
					{Name: "strategy", Values: strat},
				},
			},
		},
		Summary: &summary,
		Stats: []render.Stat{
			{Label: "Buy signals", Value: strconv.Itoa(res.Buys)},
			{Label: "Sell signals", Value: strconv.Itoa(res.Sells)},
			{Label: "Buy & hold return", Value: fmt.Sprintf("%.2f%%", res.BuyHold.TotalReturn*100)},
		},
	}
}

// PairsChart builds the correlation panel with its threshold line and the
// cumulative P&L panel.
func PairsChart(res *PairsResult, runID string) render.Chart {
	n := len(res.Rows)
	dates := make([]time.Time, n)
	corr := make([]model.NullFloat, n)
	cum := make([]model.NullFloat, n)
	for i, r := range res.Rows {
		dates[i] = r.Date
		corr[i] = r.Corr
		cum[i] = r.CumPnL
	}

	stats := []render.Stat{
		{Label: "Trades", Value: strconv.Itoa(res.Trades())},
	}
	for _, s := range model.TradeSignals {
		if s == model.NoTrade {
			continue
		}
		stats = append(stats, render.Stat{Label: string(s), Value: strconv.Itoa(res.Signals[s])})
	}
	if res.Unhandled > 0 {
		stats = append(stats, render.Stat{Label: "Unhandled rows", Value: strconv.Itoa(res.Unhandled)})
	}

	summary := res.Summary
	return render.Chart{
		RunID:    runID,
		Title:    fmt.Sprintf("%s/%s rolling %d-day correlation pairs", res.SymbolA, res.SymbolB, res.Params.Window),
		Strategy: StrategyPairs,
		Panels: []render.Panel{
			{
				Name:   PanelCorrelation,
				Dates:  dates,
				Series: []render.Series{{Name: "corr", Values: corr}},
				HLines: []render.HLine{{Name: "threshold", Value: res.Params.Threshold}},
			},
			{
				Name:   PanelPerformance,
				Dates:  dates,
				Series: []render.Series{{Name: "cum_pnl", Values: cum}},
			},
		},
		Summary: &summary,
		Stats:   stats,
	}
}

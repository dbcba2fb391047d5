// Package strategy turns indicator columns into discrete trading decisions.
//
// MACD momentum maps the MACD/signal relationship to a position per row and
// reports crossover events. The pairs strategy classifies each row of two
// return series into one of the model.TradeSignal values.
package strategy

import (
	"quant-signals/internal/model"
)

// PositionFor returns Long when macd is above signal, Short when below and
// Neutral on an exact tie.
func PositionFor(macd, signal float64) model.Position {
	switch {
	case macd > signal:
		return model.Long
	case macd < signal:
		return model.Short
	default:
		return model.Neutral
	}
}

// Positions maps aligned MACD and signal columns to positions.
func Positions(macd, signal []float64) []model.Position {
	n := min(len(macd), len(signal))
	out := make([]model.Position, n)
	for i := 0; i < n; i++ {
		out[i] = PositionFor(macd[i], signal[i])
	}
	return out
}

// Crossovers takes the first difference of positions. A +2 jump (short to
// long) is a Buy and a -2 jump (long to short) is a Sell. Moves through
// neutral change the position by 1 and are not reported. The first row has
// no predecessor and never carries an event.
func Crossovers(positions []model.Position) []model.Crossover {
	out := make([]model.Crossover, len(positions))
	for i := 1; i < len(positions); i++ {
		switch positions[i] - positions[i-1] {
		case 2:
			out[i] = model.Buy
		case -2:
			out[i] = model.Sell
		}
	}
	return out
}

// CountCrossovers returns the number of buy and sell events.
func CountCrossovers(events []model.Crossover) (buys, sells int) {
	for _, e := range events {
		switch e {
		case model.Buy:
			buys++
		case model.Sell:
			sells++
		}
	}
	return buys, sells
}

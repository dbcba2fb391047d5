// Package portfolio simulates strategy returns from positions and signals and
// summarizes the resulting return streams.
//
// Every column is index-aligned with the price rows it was derived from.
// Values that cannot be computed (the first return, the last forward-shifted
// return) are model.Null, never zero.
package portfolio

import (
	"quant-signals/internal/model"
)

// PctChange returns close[t]/close[t-1] - 1. The first row is undefined, as
// is any row whose previous close is zero.
func PctChange(closes []float64) []model.NullFloat {
	out := make([]model.NullFloat, len(closes))
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out[i] = model.Float(closes[i]/closes[i-1] - 1)
	}
	return out
}

// LaggedProduct returns position[t-1] * returns[t]: the return earned by
// holding yesterday's position over today's move. The first row is undefined.
func LaggedProduct(positions []model.Position, returns []model.NullFloat) []model.NullFloat {
	n := min(len(positions), len(returns))
	out := make([]model.NullFloat, n)
	for i := 1; i < n; i++ {
		out[i] = model.Float(float64(positions[i-1])).Mul(returns[i])
	}
	return out
}

// CumProd compounds a return column: cum[t] = prod over defined x[k], k <= t,
// of (1 + x[k]). Rows with an undefined input are undefined in the output and
// are skipped by the running product.
func CumProd(xs []model.NullFloat) []model.NullFloat {
	out := make([]model.NullFloat, len(xs))
	acc := 1.0
	for i, x := range xs {
		v, ok := x.Get()
		if !ok {
			continue
		}
		acc *= 1 + v
		out[i] = model.Float(acc)
	}
	return out
}

// ShiftForward returns next[t] = xs[t+1]; the last row is undefined.
func ShiftForward(xs []model.NullFloat) []model.NullFloat {
	out := make([]model.NullFloat, len(xs))
	if len(xs) > 1 {
		copy(out, xs[1:])
	}
	return out
}

// PairPnLFor returns the next-period P&L of one pairs decision: short the
// first named leg, long the second. no_trade earns exactly zero. The result
// is undefined when a return the trade depends on is undefined.
func PairPnLFor(signal model.TradeSignal, nextA, nextB model.NullFloat) model.NullFloat {
	switch signal {
	case model.ShortALongB, model.LongBShortA:
		return nextA.Neg().Add(nextB)
	case model.ShortBLongA, model.LongAShortB:
		return nextB.Neg().Add(nextA)
	default:
		return model.Float(0)
	}
}

// PairPnL maps PairPnLFor over aligned signal and next-return columns.
func PairPnL(signals []model.TradeSignal, nextA, nextB []model.NullFloat) []model.NullFloat {
	n := min(len(signals), len(nextA), len(nextB))
	out := make([]model.NullFloat, n)
	for i := 0; i < n; i++ {
		out[i] = PairPnLFor(signals[i], nextA[i], nextB[i])
	}
	return out
}

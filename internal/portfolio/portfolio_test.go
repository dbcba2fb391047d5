package portfolio

import (
	"math"
	"testing"

	"quant-signals/internal/model"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.8f, want %.8f", label, got, want)
	}
}

func assertNull(t *testing.T, label string, v model.NullFloat) {
	t.Helper()
	if v.Valid {
		t.Errorf("%s: expected undefined, got %v", label, v)
	}
}

// ────────────────────────────────────────────────────────────
// Returns
// ────────────────────────────────────────────────────────────

func TestPctChange(t *testing.T) {
	got := PctChange([]float64{100, 110, 99, 0, 5})
	assertNull(t, "row 0", got[0])
	assertClose(t, "row 1", got[1].Float64, 0.1, 1e-12)
	assertClose(t, "row 2", got[2].Float64, -0.1, 1e-12)
	assertClose(t, "row 3", got[3].Float64, -1, 1e-12)
	assertNull(t, "after zero close", got[4])
}

func TestLaggedProduct_UsesPreviousPosition(t *testing.T) {
	pos := []model.Position{model.Long, model.Short, model.Neutral, model.Long}
	ret := []model.NullFloat{model.Null, model.Float(0.02), model.Float(0.03), model.Float(-0.01)}
	got := LaggedProduct(pos, ret)

	assertNull(t, "row 0", got[0])
	assertClose(t, "row 1", got[1].Float64, 0.02, 1e-12)  // long
	assertClose(t, "row 2", got[2].Float64, -0.03, 1e-12) // short
	assertClose(t, "row 3", got[3].Float64, 0, 1e-12)     // neutral
}

func TestLaggedProduct_MutationOnlyAffectsNextRow(t *testing.T) {
	ret := floats([]float64{0, 0.01, -0.02, 0.03, 0.015})
	ret[0] = model.Null
	base := []model.Position{model.Long, model.Long, model.Short, model.Long, model.Short}

	for k := 0; k < len(base)-1; k++ {
		mutated := append([]model.Position(nil), base...)
		mutated[k] = -mutated[k]

		before := LaggedProduct(base, ret)
		after := LaggedProduct(mutated, ret)
		if before[k] != after[k] {
			t.Errorf("k=%d: strategy[k] changed from %v to %v", k, before[k], after[k])
		}
		if before[k+1] == after[k+1] {
			t.Errorf("k=%d: strategy[k+1] did not change", k)
		}
		for i := range before {
			if i != k+1 && before[i] != after[i] {
				t.Errorf("k=%d: row %d changed", k, i)
			}
		}
	}
}

func TestCumProd(t *testing.T) {
	got := CumProd([]model.NullFloat{model.Null, model.Float(0.1), model.Null, model.Float(-0.5), model.Float(1)})
	assertNull(t, "leading", got[0])
	assertClose(t, "row 1", got[1].Float64, 1.1, 1e-12)
	assertNull(t, "gap", got[2])
	assertClose(t, "row 3", got[3].Float64, 0.55, 1e-12)
	assertClose(t, "row 4", got[4].Float64, 1.1, 1e-12)
}

func TestCumProd_AllZeroIsOne(t *testing.T) {
	xs := floats(make([]float64, 100))
	for i, c := range CumProd(xs) {
		if c.Float64 != 1 || !c.Valid {
			t.Fatalf("row %d: got %v", i, c)
		}
	}
}

func TestShiftForward(t *testing.T) {
	got := ShiftForward(floats([]float64{1, 2, 3}))
	if got[0].Float64 != 2 || got[1].Float64 != 3 {
		t.Errorf("unexpected shift %v", got)
	}
	assertNull(t, "last", got[2])
	if len(ShiftForward(nil)) != 0 {
		t.Error("empty input")
	}
	assertNull(t, "single", ShiftForward(floats([]float64{7}))[0])
}

// ────────────────────────────────────────────────────────────
// Pairs P&L
// ────────────────────────────────────────────────────────────

func TestPairPnLFor(t *testing.T) {
	a, b := model.Float(0.01), model.Float(0.03)
	tests := []struct {
		signal model.TradeSignal
		want   float64
	}{
		{model.ShortALongB, 0.02},
		{model.LongBShortA, 0.02},
		{model.ShortBLongA, -0.02},
		{model.LongAShortB, -0.02},
		{model.NoTrade, 0},
	}
	for _, tt := range tests {
		got := PairPnLFor(tt.signal, a, b)
		if !got.Valid {
			t.Fatalf("%s: undefined", tt.signal)
		}
		assertClose(t, string(tt.signal), got.Float64, tt.want, 1e-12)
	}
}

func TestPairPnL_NoTradeIsZero(t *testing.T) {
	n := 20
	signals := make([]model.TradeSignal, n)
	nextA := make([]model.NullFloat, n)
	nextB := make([]model.NullFloat, n)
	for i := range signals {
		signals[i] = model.NoTrade
		nextA[i] = model.Float(float64(i) * 0.001)
		nextB[i] = model.Float(-float64(i) * 0.002)
	}
	nextA[n-1], nextB[n-1] = model.Null, model.Null

	pnl := PairPnL(signals, nextA, nextB)
	for i, p := range pnl {
		if !p.Valid || p.Float64 != 0 {
			t.Fatalf("row %d: got %v, want 0", i, p)
		}
	}
	for i, c := range CumProd(pnl) {
		if c.Float64 != 1 {
			t.Fatalf("cum row %d: got %v", i, c)
		}
	}
}

func TestPairPnL_UndefinedNextReturn(t *testing.T) {
	assertNull(t, "short A", PairPnLFor(model.ShortALongB, model.Null, model.Float(0.01)))
	assertNull(t, "long B", PairPnLFor(model.LongBShortA, model.Float(0.01), model.Null))
}

// ────────────────────────────────────────────────────────────
// Summary
// ────────────────────────────────────────────────────────────

func TestSummarize_Drawdown(t *testing.T) {
	// equity: 1.1, 1.21, 0.968, 0.8712, 1.045
	rets := []model.NullFloat{model.Null, model.Float(0.1), model.Float(0.1), model.Float(-0.2), model.Float(-0.1), model.Float(0.2)}
	s := Summarize(rets, DefaultSummaryConfig)

	if s.Periods != 5 || s.ActivePeriods != 5 {
		t.Errorf("periods=%d active=%d", s.Periods, s.ActivePeriods)
	}
	assertClose(t, "total", s.TotalReturn, 1.1*1.1*0.8*0.9*1.2-1, 1e-12)
	assertClose(t, "max drawdown", s.MaxDrawdown, 1-0.8712/1.21, 1e-12)
	if s.MaxDrawdownDuration != 2 {
		t.Errorf("drawdown duration = %d, want 2", s.MaxDrawdownDuration)
	}
	assertClose(t, "hit ratio", s.HitRatio, 3.0/5.0, 1e-12)
	if s.AnnualizedVolatility <= 0 {
		t.Errorf("volatility = %v", s.AnnualizedVolatility)
	}
}

func TestSummarize_Sharpe(t *testing.T) {
	rets := floats([]float64{0.01, -0.005, 0.02, 0.0, 0.015})
	s := Summarize(rets, SummaryConfig{PeriodsPerYear: 252})

	mean := (0.01 - 0.005 + 0.02 + 0.015) / 5
	var ss float64
	for _, x := range []float64{0.01, -0.005, 0.02, 0.0, 0.015} {
		ss += (x - mean) * (x - mean)
	}
	std := math.Sqrt(ss / 4)
	assertClose(t, "sharpe", s.Sharpe, mean/std*math.Sqrt(252), 1e-9)
	assertClose(t, "vol", s.AnnualizedVolatility, std*math.Sqrt(252), 1e-12)
	if s.ActivePeriods != 4 {
		t.Errorf("active periods = %d", s.ActivePeriods)
	}

	withRF := Summarize(rets, SummaryConfig{PeriodsPerYear: 252, RiskFreeRate: 0.05})
	if withRF.Sharpe >= s.Sharpe {
		t.Errorf("risk-free rate should lower Sharpe: %v >= %v", withRF.Sharpe, s.Sharpe)
	}
}

func TestSummarize_Degenerate(t *testing.T) {
	if s := Summarize(nil, DefaultSummaryConfig); s != (Summary{}) {
		t.Errorf("empty: %+v", s)
	}
	flat := Summarize(floats(make([]float64, 30)), DefaultSummaryConfig)
	if flat.TotalReturn != 0 || flat.Sharpe != 0 || flat.MaxDrawdown != 0 || flat.HitRatio != 0 {
		t.Errorf("flat: %+v", flat)
	}
	one := Summarize([]model.NullFloat{model.Float(0.05)}, SummaryConfig{})
	assertClose(t, "single total", one.TotalReturn, 0.05, 1e-12)
	if one.Sharpe != 0 {
		t.Errorf("single sharpe = %v", one.Sharpe)
	}
}

func floats(xs []float64) []model.NullFloat {
	out := make([]model.NullFloat, len(xs))
	for i, x := range xs {
		out[i] = model.Float(x)
	}
	return out
}

package portfolio

import (
	"math"

	"quant-signals/internal/model"
)

// TradingDaysPerYear annualizes daily return columns.
const TradingDaysPerYear = 252

// SummaryConfig controls annualization.
type SummaryConfig struct {
	PeriodsPerYear int     `json:"periods_per_year" yaml:"periods_per_year"`
	RiskFreeRate   float64 `json:"risk_free_rate" yaml:"risk_free_rate"` // annual, e.g. 0.02
}

// DefaultSummaryConfig annualizes daily data with a zero risk-free rate.
var DefaultSummaryConfig = SummaryConfig{PeriodsPerYear: TradingDaysPerYear}

// Summary describes a compounded return stream.
type Summary struct {
	Periods              int     `json:"periods"`        // defined returns
	ActivePeriods        int     `json:"active_periods"` // non-zero returns
	TotalReturn          float64 `json:"total_return"`
	AnnualizedReturn     float64 `json:"annualized_return"`
	AnnualizedVolatility float64 `json:"annualized_volatility"`
	Sharpe               float64 `json:"sharpe"`
	MaxDrawdown          float64 `json:"max_drawdown"`          // fraction of the peak, >= 0
	MaxDrawdownDuration  int     `json:"max_drawdown_duration"` // rows from peak to trough
	HitRatio             float64 `json:"hit_ratio"`             // positive / active
}

// Summarize compounds the defined values of returns into an equity curve
// starting at 1 and reports its performance. Undefined rows are skipped.
// Ratios that need dispersion (volatility, Sharpe) are zero with fewer than
// two defined returns or a flat stream.
func Summarize(returns []model.NullFloat, cfg SummaryConfig) Summary {
	ppy := cfg.PeriodsPerYear
	if ppy <= 0 {
		ppy = TradingDaysPerYear
	}

	var s Summary
	xs := make([]float64, 0, len(returns))
	for _, r := range returns {
		if v, ok := r.Get(); ok {
			xs = append(xs, v)
		}
	}
	s.Periods = len(xs)
	if s.Periods == 0 {
		return s
	}

	equity, peak := 1.0, 1.0
	peakIdx := -1
	wins := 0
	var sum float64
	for i, x := range xs {
		sum += x
		if x != 0 {
			s.ActivePeriods++
		}
		if x > 0 {
			wins++
		}

		equity *= 1 + x
		if equity > peak {
			peak = equity
			peakIdx = i
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > s.MaxDrawdown {
				s.MaxDrawdown = dd
				s.MaxDrawdownDuration = i - peakIdx
			}
		}
	}

	s.TotalReturn = equity - 1
	if equity > 0 {
		s.AnnualizedReturn = math.Pow(equity, float64(ppy)/float64(s.Periods)) - 1
	} else {
		s.AnnualizedReturn = -1
	}
	if s.ActivePeriods > 0 {
		s.HitRatio = float64(wins) / float64(s.ActivePeriods)
	}

	if s.Periods < 2 {
		return s
	}

	// Per-period risk-free rate: (1 + rf_annual)^(1/ppy) - 1
	rf := math.Pow(1+cfg.RiskFreeRate, 1/float64(ppy)) - 1
	mean := sum / float64(s.Periods)

	var varianceSum float64
	for _, x := range xs {
		d := x - mean
		varianceSum += d * d
	}
	std := math.Sqrt(varianceSum / float64(s.Periods-1))
	if std == 0 {
		return s
	}
	s.AnnualizedVolatility = std * math.Sqrt(float64(ppy))
	s.Sharpe = (mean - rf) / std * math.Sqrt(float64(ppy))
	return s
}

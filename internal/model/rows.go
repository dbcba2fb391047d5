package model

import "time"

// MACDRow is one date of the MACD strategy table.
type MACDRow struct {
	Date      time.Time `json:"date"`
	Close     float64   `json:"close"`
	FastEMA   float64   `json:"fast_ema"`
	SlowEMA   float64   `json:"slow_ema"`
	MACD      float64   `json:"macd"`
	Signal    float64   `json:"signal"`
	Histogram float64   `json:"histogram"`

	Position  Position  `json:"position"`
	Crossover Crossover `json:"crossover,omitempty"`

	Return                   NullFloat `json:"returns"`
	StrategyReturn           NullFloat `json:"strategy_returns"`
	CumulativeReturn         NullFloat `json:"cumulative_returns"`
	CumulativeStrategyReturn NullFloat `json:"cumulative_strategy_returns"`
}

// PairRow is one date of the pairs strategy table.
type PairRow struct {
	Date          time.Time   `json:"date"`
	Corr          NullFloat   `json:"corr"` // undefined during the warm-up window
	ReturnA       float64     `json:"returns_A"`
	ReturnB       float64     `json:"returns_B"`
	SameDirection bool        `json:"direction_same"`
	StrongCorr    bool        `json:"strong_corr"`
	Signal        TradeSignal `json:"signal"`

	// Unhandled marks rows where correlation and direction qualified for a
	// trade but neither both-positive nor both-negative held.
	Unhandled bool `json:"unhandled,omitempty"`

	NextReturnA NullFloat `json:"next_returns_A"`
	NextReturnB NullFloat `json:"next_returns_B"`
	PnL         NullFloat `json:"pnl"`
	CumPnL      NullFloat `json:"cum_pnl"`
}

// PairFrame holds two close series inner-joined on date.
type PairFrame struct {
	SymbolA string
	SymbolB string
	Dates   []time.Time
	CloseA  []float64
	CloseB  []float64
}

// Len returns the number of aligned dates.
func (f *PairFrame) Len() int { return len(f.Dates) }

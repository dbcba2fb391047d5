package indicator

import "fmt"

// MACDParams are the three MACD spans.
type MACDParams struct {
	Fast   int `json:"fast_period" yaml:"fast_period"`
	Slow   int `json:"slow_period" yaml:"slow_period"`
	Signal int `json:"signal_period" yaml:"signal_period"`
}

// DefaultMACDParams is the classic 12/26/9 configuration.
var DefaultMACDParams = MACDParams{Fast: 12, Slow: 26, Signal: 9}

// Validate checks that every span is >= 1 and fast < slow.
func (p MACDParams) Validate() error {
	if p.Fast < 1 || p.Slow < 1 || p.Signal < 1 {
		return fmt.Errorf("fast=%d slow=%d signal=%d: %w", p.Fast, p.Slow, p.Signal, ErrInvalidPeriod)
	}
	if p.Fast >= p.Slow {
		return fmt.Errorf("fast=%d must be below slow=%d: %w", p.Fast, p.Slow, ErrInvalidPeriod)
	}
	return nil
}

// MACDColumns holds the derived MACD columns, index-aligned with the input.
type MACDColumns struct {
	FastEMA   []float64
	SlowEMA   []float64
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// Len returns the number of rows.
func (c *MACDColumns) Len() int { return len(c.MACD) }

// MACD computes fast/slow EMAs of closes, their difference, the signal line
// (EMA of the MACD line) and the histogram. Every row is defined because
// each EMA seeds on its first input; a single close yields a single row.
func MACD(closes []float64, p MACDParams) (*MACDColumns, error) {
	if len(closes) == 0 {
		return nil, ErrEmptySeries
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	n := len(closes)
	cols := &MACDColumns{
		FastEMA:   EMASeries(closes, p.Fast),
		SlowEMA:   EMASeries(closes, p.Slow),
		MACD:      make([]float64, n),
		Histogram: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		cols.MACD[i] = cols.FastEMA[i] - cols.SlowEMA[i]
	}
	cols.Signal = EMASeries(cols.MACD, p.Signal)
	for i := 0; i < n; i++ {
		cols.Histogram[i] = cols.MACD[i] - cols.Signal[i]
	}
	return cols, nil
}

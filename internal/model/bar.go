package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnorderedSeries is returned when bar dates are not strictly increasing.
var ErrUnorderedSeries = errors.New("bar dates not strictly increasing")

// Bar represents one daily OHLC bar for a single instrument.
// A provider may leave any price field undefined for a date.
type Bar struct {
	Date   time.Time `json:"date"` // trading date, UTC midnight
	Open   NullFloat `json:"open"`
	High   NullFloat `json:"high"`
	Low    NullFloat `json:"low"`
	Close  NullFloat `json:"close"`
	Volume int64     `json:"volume"`
}

// Complete reports whether every price field is defined.
func (b *Bar) Complete() bool {
	return b.Open.Valid && b.High.Valid && b.Low.Valid && b.Close.Valid
}

// PriceSeries is the ordered bar history of one instrument.
// Treat it as immutable once loaded.
type PriceSeries struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

// Len returns the number of bars.
func (s *PriceSeries) Len() int { return len(s.Bars) }

// Validate checks that dates are strictly increasing (no duplicates).
func (s *PriceSeries) Validate() error {
	for i := 1; i < len(s.Bars); i++ {
		if !s.Bars[i].Date.After(s.Bars[i-1].Date) {
			return fmt.Errorf("%s at %s: %w", s.Symbol, s.Bars[i].Date.Format(DateLayout), ErrUnorderedSeries)
		}
	}
	return nil
}

// DropIncomplete returns a copy of the series without incomplete bars.
func (s *PriceSeries) DropIncomplete() PriceSeries {
	out := PriceSeries{Symbol: s.Symbol, Bars: make([]Bar, 0, len(s.Bars))}
	for _, b := range s.Bars {
		if b.Complete() {
			out.Bars = append(out.Bars, b)
		}
	}
	return out
}

// Closes returns the close column. Callers drop incomplete bars first.
func (s *PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close.Float64
	}
	return out
}

// Between returns the bars whose date falls in [start, end).
func (s *PriceSeries) Between(start, end time.Time) PriceSeries {
	out := PriceSeries{Symbol: s.Symbol}
	for _, b := range s.Bars {
		if b.Date.Before(start) || !b.Date.Before(end) {
			continue
		}
		out.Bars = append(out.Bars, b)
	}
	return out
}

// DateLayout is the calendar-date format used across configs, CSVs and logs.
const DateLayout = "2006-01-02"

// TruncateDay normalises t to UTC midnight of its calendar date.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

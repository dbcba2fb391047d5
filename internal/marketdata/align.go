package marketdata

import (
	"fmt"

	"quant-signals/internal/model"
)

// Align drops incomplete bars from both series and inner-joins them on date.
// Both inputs must be ordered; fewer than MinObservations common dates is
// ErrDataUnavailable.
func Align(a, b model.PriceSeries) (model.PairFrame, error) {
	if err := a.Validate(); err != nil {
		return model.PairFrame{}, err
	}
	if err := b.Validate(); err != nil {
		return model.PairFrame{}, err
	}
	ca, cb := a.DropIncomplete(), b.DropIncomplete()

	f := model.PairFrame{SymbolA: a.Symbol, SymbolB: b.Symbol}
	i, j := 0, 0
	for i < len(ca.Bars) && j < len(cb.Bars) {
		da, db := ca.Bars[i].Date, cb.Bars[j].Date
		switch {
		case da.Before(db):
			i++
		case db.Before(da):
			j++
		default:
			f.Dates = append(f.Dates, da)
			f.CloseA = append(f.CloseA, ca.Bars[i].Close.Float64)
			f.CloseB = append(f.CloseB, cb.Bars[j].Close.Float64)
			i++
			j++
		}
	}

	if f.Len() < MinObservations {
		return model.PairFrame{}, fmt.Errorf("%s/%s: %d common dates: %w", a.Symbol, b.Symbol, f.Len(), ErrDataUnavailable)
	}
	return f, nil
}

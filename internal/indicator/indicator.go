// Package indicator provides technical indicator calculations over price series.
//
// Streaming indicators are fed one observation at a time through Update;
// the *Series helpers run them over a whole column.
package indicator

import "errors"

var (
	// ErrEmptySeries is returned when an indicator is asked to run over no data.
	ErrEmptySeries = errors.New("empty price series")

	// ErrInvalidPeriod is returned for non-positive or misordered periods.
	ErrInvalidPeriod = errors.New("invalid indicator period")
)

package strategy

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"quant-signals/internal/model"
)

// DefaultCorrThreshold is the correlation below which a pair is considered
// strongly negatively correlated.
const DefaultCorrThreshold = -0.5

// ErrUnhandledPairRow is returned under GapError when a row qualifies for a
// trade but the decision table has no branch for it.
var ErrUnhandledPairRow = errors.New("pair row qualifies for a trade but matches no rule")

// ErrUnknownGapPolicy is returned by ParseGapPolicy.
var ErrUnknownGapPolicy = errors.New("unknown gap policy")

// GapPolicy decides what happens to a row that has strong correlation and
// matching return signs while both returns are exactly zero.
type GapPolicy string

const (
	// GapNoTrade records the row as no_trade and flags it Unhandled.
	GapNoTrade GapPolicy = "no_trade"
	// GapError fails the run on the first such row.
	GapError GapPolicy = "error"
)

// ParseGapPolicy parses a policy name. Empty selects GapNoTrade.
func ParseGapPolicy(s string) (GapPolicy, error) {
	switch GapPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", GapNoTrade:
		return GapNoTrade, nil
	case GapError:
		return GapError, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownGapPolicy)
}

// PairInput is one row fed to the pairs decision table.
type PairInput struct {
	ReturnA   float64
	ReturnB   float64
	Corr      model.NullFloat
	Threshold float64
}

// Decision is the classified outcome for one row.
type Decision struct {
	Signal        model.TradeSignal
	SameDirection bool
	StrongCorr    bool

	// Unhandled is set when the row qualified for a trade but neither
	// both-positive nor both-negative held.
	Unhandled bool
}

// sign returns -1, 0 or +1 with sign(0) = 0.
func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

// ClassifyPair applies the pairs decision table:
//
//	strong && same_dir && A>0 && B>0 : short the bigger gainer, long the other
//	strong && same_dir && A<0 && B<0 : long the bigger loser, short the other
//	otherwise                        : no_trade
//
// Ties go to the second branch of each comparison.
func ClassifyPair(in PairInput) Decision {
	d := Decision{
		Signal:        model.NoTrade,
		SameDirection: sign(in.ReturnA) == sign(in.ReturnB),
		StrongCorr:    in.Corr.Valid && in.Corr.Float64 < in.Threshold,
	}
	if !d.StrongCorr || !d.SameDirection {
		return d
	}

	a, b := in.ReturnA, in.ReturnB
	switch {
	case a > 0 && b > 0:
		if a > b {
			d.Signal = model.ShortALongB
		} else {
			d.Signal = model.ShortBLongA
		}
	case a < 0 && b < 0:
		if math.Abs(a) > math.Abs(b) {
			d.Signal = model.LongAShortB
		} else {
			d.Signal = model.LongBShortA
		}
	default:
		d.Unhandled = true
	}
	return d
}

// Resolve applies the policy to a decision made for date. Handled decisions
// pass through unchanged.
func (p GapPolicy) Resolve(d Decision, date time.Time) (Decision, error) {
	if !d.Unhandled {
		return d, nil
	}
	if p == GapError {
		return d, fmt.Errorf("%s: %w", date.Format(model.DateLayout), ErrUnhandledPairRow)
	}
	d.Signal = model.NoTrade
	return d, nil
}

package indicator

import (
	"math"

	"quant-signals/internal/model"
)

// varianceFloor scales the smallest sum of squares treated as real dispersion.
// Windows of a constant value leave only rounding noise from the mean.
const varianceFloor = 1e-20

// RollingCorrelation calculates the sample Pearson correlation of two series
// over the trailing window of observations.
//
// The value is undefined until the window holds `window` observations, while
// any observation in the window is undefined, and when either side has no
// dispersion inside the window. The window is a preallocated circular buffer.
type RollingCorrelation struct {
	window int
	bufA   []model.NullFloat
	bufB   []model.NullFloat
	idx    int // current write position
	count  int // total observations received
}

// NewRollingCorrelation creates a rolling correlation over window observations.
// window must be >= 2.
func NewRollingCorrelation(window int) *RollingCorrelation {
	size := max(window, 0)
	return &RollingCorrelation{
		window: window,
		bufA:   make([]model.NullFloat, size),
		bufB:   make([]model.NullFloat, size),
	}
}

// Update feeds the next pair of observations and returns the new correlation.
func (r *RollingCorrelation) Update(a, b model.NullFloat) model.NullFloat {
	if r.window < 2 {
		r.count++
		return model.Null
	}
	r.bufA[r.idx] = a
	r.bufB[r.idx] = b
	r.idx = (r.idx + 1) % r.window
	r.count++

	return r.compute()
}

func (r *RollingCorrelation) compute() model.NullFloat {
	if r.window < 2 || r.count < r.window {
		return model.Null
	}

	var sumA, sumB, maxA, maxB float64
	for i := 0; i < r.window; i++ {
		a, okA := r.bufA[i].Get()
		b, okB := r.bufB[i].Get()
		if !okA || !okB {
			return model.Null
		}
		sumA += a
		sumB += b
		maxA = math.Max(maxA, math.Abs(a))
		maxB = math.Max(maxB, math.Abs(b))
	}
	n := float64(r.window)
	meanA, meanB := sumA/n, sumB/n

	var cov, ssA, ssB float64
	for i := 0; i < r.window; i++ {
		da := r.bufA[i].Float64 - meanA
		db := r.bufB[i].Float64 - meanB
		cov += da * db
		ssA += da * da
		ssB += db * db
	}
	if ssA <= varianceFloor*n*maxA*maxA || ssB <= varianceFloor*n*maxB*maxB {
		return model.Null
	}

	// The (n-1) normalisers of sample covariance and variances cancel.
	corr := cov / math.Sqrt(ssA*ssB)
	return model.Float(math.Max(-1, math.Min(1, corr)))
}

// RollingCorrelationSeries runs a rolling correlation over two aligned columns.
func RollingCorrelationSeries(a, b []model.NullFloat, window int) []model.NullFloat {
	rc := NewRollingCorrelation(window)
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]model.NullFloat, n)
	for i := 0; i < n; i++ {
		out[i] = rc.Update(a[i], b[i])
	}
	return out
}

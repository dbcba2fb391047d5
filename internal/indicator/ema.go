package indicator

// EMA calculates an Exponential Moving Average with smoothing span s,
// alpha = 2/(s+1), seeded on the first observation:
//
//	ema[0] = x[0]
//	ema[t] = alpha*x[t] + (1-alpha)*ema[t-1]
//
// O(1) per update, no window storage needed.
type EMA struct {
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA indicator with the given span.
func NewEMA(span int) *EMA {
	return &EMA{
		multiplier: 2.0 / float64(span+1),
	}
}

// Update feeds the next observation and returns the new average.
func (e *EMA) Update(x float64) float64 {
	e.count++
	if e.count == 1 {
		e.current = x
		return e.current
	}
	e.current = (x * e.multiplier) + (e.current * (1 - e.multiplier))
	return e.current
}

// EMASeries runs an EMA with the given span over xs.
func EMASeries(xs []float64, span int) []float64 {
	ema := NewEMA(span)
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = ema.Update(x)
	}
	return out
}

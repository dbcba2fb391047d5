package model

import (
	"encoding/json"
	"strconv"
)

// NullFloat is a float64 that may be undefined. It replaces NaN sentinels for
// warm-up windows and shifted series edges so that undefined and zero are
// never confused. Modelled on database/sql.NullFloat64.
type NullFloat struct {
	Float64 float64
	Valid   bool
}

// Null is the undefined value.
var Null = NullFloat{}

// Float returns a defined NullFloat holding v.
func Float(v float64) NullFloat {
	return NullFloat{Float64: v, Valid: true}
}

// Get returns the value and whether it is defined.
func (n NullFloat) Get() (float64, bool) { return n.Float64, n.Valid }

// Add returns n+o, undefined if either side is undefined.
func (n NullFloat) Add(o NullFloat) NullFloat {
	if !n.Valid || !o.Valid {
		return Null
	}
	return Float(n.Float64 + o.Float64)
}

// Sub returns n-o, undefined if either side is undefined.
func (n NullFloat) Sub(o NullFloat) NullFloat {
	if !n.Valid || !o.Valid {
		return Null
	}
	return Float(n.Float64 - o.Float64)
}

// Mul returns n*o, undefined if either side is undefined.
func (n NullFloat) Mul(o NullFloat) NullFloat {
	if !n.Valid || !o.Valid {
		return Null
	}
	return Float(n.Float64 * o.Float64)
}

// Neg returns -n.
func (n NullFloat) Neg() NullFloat {
	if !n.Valid {
		return Null
	}
	return Float(-n.Float64)
}

func (n NullFloat) String() string {
	if !n.Valid {
		return "NaN"
	}
	return strconv.FormatFloat(n.Float64, 'f', -1, 64)
}

// MarshalJSON encodes an undefined value as null.
func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Float64)
}

// UnmarshalJSON decodes null as undefined.
func (n *NullFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = Null
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = Float(v)
	return nil
}

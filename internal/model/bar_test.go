package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func bar(d int, close float64) Bar {
	return Bar{Date: day(d), Open: Float(close), High: Float(close), Low: Float(close), Close: Float(close)}
}

func TestPriceSeries_Validate(t *testing.T) {
	ok := PriceSeries{Symbol: "MU", Bars: []Bar{bar(2, 1), bar(3, 2), bar(5, 3)}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dup := PriceSeries{Symbol: "MU", Bars: []Bar{bar(2, 1), bar(2, 2)}}
	if err := dup.Validate(); !errors.Is(err, ErrUnorderedSeries) {
		t.Errorf("duplicate dates: got %v, want ErrUnorderedSeries", err)
	}

	back := PriceSeries{Symbol: "MU", Bars: []Bar{bar(3, 1), bar(2, 2)}}
	if err := back.Validate(); !errors.Is(err, ErrUnorderedSeries) {
		t.Errorf("decreasing dates: got %v, want ErrUnorderedSeries", err)
	}
}

func TestPriceSeries_DropIncomplete(t *testing.T) {
	gap := bar(3, 2)
	gap.Close = Null
	s := PriceSeries{Symbol: "GLD", Bars: []Bar{bar(2, 1), gap, bar(4, 3)}}

	got := s.DropIncomplete()
	if got.Len() != 2 {
		t.Fatalf("expected 2 bars, got %d", got.Len())
	}
	if !got.Bars[1].Date.Equal(day(4)) {
		t.Errorf("expected second bar on day 4, got %s", got.Bars[1].Date)
	}
	if s.Len() != 3 {
		t.Errorf("source series mutated: len=%d", s.Len())
	}
}

func TestPriceSeries_Between(t *testing.T) {
	s := PriceSeries{Symbol: "X", Bars: []Bar{bar(1, 1), bar(2, 2), bar(3, 3), bar(4, 4)}}
	got := s.Between(day(2), day(4))
	if got.Len() != 2 || got.Bars[0].Close.Float64 != 2 || got.Bars[1].Close.Float64 != 3 {
		t.Errorf("unexpected window: %+v", got.Bars)
	}
}

func TestNullFloat_Arithmetic(t *testing.T) {
	if v := Float(2).Sub(Float(0.5)); !v.Valid || v.Float64 != 1.5 {
		t.Errorf("Sub: got %v", v)
	}
	if v := Float(2).Mul(Null); v.Valid {
		t.Errorf("Mul with undefined should be undefined, got %v", v)
	}
	if v := Null.Neg(); v.Valid {
		t.Errorf("Neg of undefined should be undefined")
	}
}

func TestNullFloat_JSON(t *testing.T) {
	b, err := json.Marshal([]NullFloat{Float(1.25), Null})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "[1.25,null]" {
		t.Errorf("got %s", b)
	}

	var back []NullFloat
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if !back[0].Valid || back[0].Float64 != 1.25 || back[1].Valid {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestParseInstrument(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"NSE:3045", "NSE:3045", false},
		{"nse:3045", "NSE:3045", false},
		{"3045", "NSE:3045", false},
		{":3045", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseInstrument(tt.in, "NSE")
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseInstrument(%q) err=%v, wantErr=%v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got.Key() != tt.want {
			t.Errorf("ParseInstrument(%q) = %s, want %s", tt.in, got.Key(), tt.want)
		}
	}
}

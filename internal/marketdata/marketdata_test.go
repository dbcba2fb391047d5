package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quant-signals/internal/model"
)

func day(s string) time.Time {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func bar(date string, close float64) model.Bar {
	c := model.Float(close)
	return model.Bar{Date: day(date), Open: c, High: c, Low: c, Close: c}
}

func series(symbol string, bars ...model.Bar) model.PriceSeries {
	return model.PriceSeries{Symbol: symbol, Bars: bars}
}

// ────────────────────────────────────────────────────────────
// Normalize / Align
// ────────────────────────────────────────────────────────────

func TestNormalize_SortsDedupsAndFilters(t *testing.T) {
	raw := []model.Bar{
		bar("2024-01-03", 3),
		bar("2024-01-01", 1),
		bar("2024-01-02", 2),
		bar("2024-01-02", 2.5), // later duplicate wins
		bar("2024-01-05", 5),   // outside [start, end)
	}
	raw[0].Date = raw[0].Date.Add(14 * time.Hour)

	s, err := Normalize("MU", raw, day("2024-01-01"), day("2024-01-05"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Validate(); err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 2.5, 3}
	if got := s.Closes(); len(got) != len(want) {
		t.Fatalf("closes = %v, want %v", got, want)
	}
	for i, c := range s.Closes() {
		if c != want[i] {
			t.Errorf("row %d: %v, want %v", i, c, want[i])
		}
	}
	if !s.Bars[2].Date.Equal(day("2024-01-03")) {
		t.Errorf("date not truncated: %v", s.Bars[2].Date)
	}
}

func TestNormalize_TooFewObservations(t *testing.T) {
	incomplete := model.Bar{Date: day("2024-01-02"), Close: model.Float(1)}
	_, err := Normalize("X", []model.Bar{bar("2024-01-01", 1), incomplete}, time.Time{}, time.Time{})
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if _, err := Normalize("X", nil, time.Time{}, time.Time{}); !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("empty: got %v", err)
	}
}

func TestAlign_InnerJoin(t *testing.T) {
	a := series("GLD", bar("2024-01-01", 10), bar("2024-01-02", 11), bar("2024-01-04", 12), bar("2024-01-05", 13))
	b := series("UUP", bar("2024-01-02", 20), bar("2024-01-03", 21), bar("2024-01-04", 22), bar("2024-01-05", 23))
	b.Bars[3].High = model.Null // incomplete, dropped

	f, err := Align(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if f.Len() != 2 || f.SymbolA != "GLD" || f.SymbolB != "UUP" {
		t.Fatalf("frame = %+v", f)
	}
	if f.CloseA[0] != 11 || f.CloseB[0] != 20 || f.CloseA[1] != 12 || f.CloseB[1] != 22 {
		t.Errorf("unexpected closes %v %v", f.CloseA, f.CloseB)
	}
}

func TestAlign_NoOverlap(t *testing.T) {
	a := series("A", bar("2024-01-01", 1), bar("2024-01-02", 2))
	b := series("B", bar("2024-02-01", 1), bar("2024-02-02", 2))
	if _, err := Align(a, b); !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestAlign_Unordered(t *testing.T) {
	a := series("A", bar("2024-01-02", 1), bar("2024-01-01", 2))
	b := series("B", bar("2024-01-01", 1), bar("2024-01-02", 2))
	if _, err := Align(a, b); !errors.Is(err, model.ErrUnorderedSeries) {
		t.Fatalf("expected ErrUnorderedSeries, got %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Retry
// ────────────────────────────────────────────────────────────

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestWithRetry_EventuallySucceeds(t *testing.T) {
	calls, retries := 0, 0
	cfg := fastRetry()
	cfg.OnRetry = func(int, error) { retries++ }
	err := WithRetry(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 || retries != 2 {
		t.Fatalf("err=%v calls=%d retries=%d", err, calls, retries)
	}
}

func TestWithRetry_GivesUp(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(), func(context.Context) error {
		calls++
		return errors.New("down")
	})
	if err == nil || calls != 4 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestWithRetry_PermanentErrors(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(), func(context.Context) error {
		calls++
		return ErrDataUnavailable
	})
	if !errors.Is(err, ErrDataUnavailable) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := fastRetry()
	cfg.BaseDelay = time.Hour
	err = WithRetry(ctx, cfg, func(context.Context) error { return errors.New("transient") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// CachedLoader
// ────────────────────────────────────────────────────────────

type memCache struct {
	mu      sync.Mutex
	name    string
	data    map[string]model.PriceSeries
	failGet bool
}

func newMemCache(name string) *memCache {
	return &memCache{name: name, data: make(map[string]model.PriceSeries)}
}

func (m *memCache) Name() string { return m.name }

func (m *memCache) Get(_ context.Context, key CacheKey) (model.PriceSeries, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return model.PriceSeries{}, false, errors.New("cache down")
	}
	s, ok := m.data[key.String()]
	return s, ok, nil
}

func (m *memCache) Put(_ context.Context, key CacheKey, s model.PriceSeries) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key.String()] = s
	return nil
}

func TestCachedLoader_ReadThrough(t *testing.T) {
	calls := 0
	upstream := LoaderFunc(func(_ context.Context, symbol string, _, _ time.Time) (model.PriceSeries, error) {
		calls++
		return series(symbol, bar("2024-01-01", 1), bar("2024-01-02", 2)), nil
	})
	l1, l2 := newMemCache("redis"), newMemCache("sqlite")
	loader := NewCachedLoader(SourceCSV, upstream, nil, l1, l2)

	ctx := context.Background()
	start, end := day("2024-01-01"), day("2024-02-01")

	if _, err := loader.Load(ctx, "MU", start, end); err != nil {
		t.Fatal(err)
	}
	if calls != 1 || len(l1.data) != 1 || len(l2.data) != 1 {
		t.Fatalf("miss should fill both caches: calls=%d l1=%d l2=%d", calls, len(l1.data), len(l2.data))
	}

	// Second-level hit back-fills the first level.
	l1.data = map[string]model.PriceSeries{}
	s, err := loader.Load(ctx, "MU", start, end)
	if err != nil || s.Len() != 2 {
		t.Fatalf("hit: %v %d", err, s.Len())
	}
	if calls != 1 || len(l1.data) != 1 {
		t.Fatalf("expected back-fill without upstream call: calls=%d l1=%d", calls, len(l1.data))
	}
}

func TestCachedLoader_CacheFailureFallsThrough(t *testing.T) {
	calls := 0
	upstream := LoaderFunc(func(_ context.Context, symbol string, _, _ time.Time) (model.PriceSeries, error) {
		calls++
		return series(symbol, bar("2024-01-01", 1), bar("2024-01-02", 2)), nil
	})
	broken := newMemCache("redis")
	broken.failGet = true
	loader := NewCachedLoader(SourceYahoo, upstream, nil, broken)

	if _, err := loader.Load(context.Background(), "MU", day("2024-01-01"), day("2024-02-01")); err != nil {
		t.Fatalf("cache failure must not fail the load: %v", err)
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d", calls)
	}
}

func TestCachedLoader_PropagatesLoaderError(t *testing.T) {
	upstream := LoaderFunc(func(_ context.Context, symbol string, _, _ time.Time) (model.PriceSeries, error) {
		return model.PriceSeries{}, ErrDataUnavailable
	})
	c := newMemCache("sqlite")
	_, err := NewCachedLoader(SourceYahoo, upstream, nil, c).Load(context.Background(), "NOPE", day("2024-01-01"), day("2024-02-01"))
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if len(c.data) != 0 {
		t.Error("failed load must not be cached")
	}
}

package smartconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Interval is a historical candle interval.
type Interval string

const (
	IntervalOneMinute Interval = "ONE_MINUTE"
	IntervalOneHour   Interval = "ONE_HOUR"
	IntervalOneDay    Interval = "ONE_DAY"
)

// MaxDaysPerRequest bounds the date span of one ONE_DAY candle request.
const MaxDaysPerRequest = 2000

// candleTimeLayout is the from/to format expected by getCandleData.
const candleTimeLayout = "2006-01-02 15:04"

// IST is the exchange timezone candle timestamps are quoted in.
var IST = time.FixedZone("IST", 5*3600+1800)

// CandleParams selects one historical candle download.
type CandleParams struct {
	Exchange    string
	SymbolToken string
	Interval    Interval
	From        time.Time
	To          time.Time
}

// Candle is one OHLCV row.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// GetCandleData downloads candles for p. Rows are returned in the order the
// API sends them (ascending time).
func (sc *SmartConnect) GetCandleData(ctx context.Context, p CandleParams) ([]Candle, error) {
	if sc.AccessToken() == "" {
		return nil, ErrNotLoggedIn
	}
	if p.Interval == "" {
		p.Interval = IntervalOneDay
	}
	env, err := sc.doRequest(ctx, http.MethodPost, "api.candle.data", map[string]any{
		"exchange":    p.Exchange,
		"symboltoken": p.SymbolToken,
		"interval":    string(p.Interval),
		"fromdate":    p.From.In(IST).Format(candleTimeLayout),
		"todate":      p.To.In(IST).Format(candleTimeLayout),
	})
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}

	out := make([]Candle, 0, len(rows))
	for i, row := range rows {
		c, err := parseCandle(row)
		if err != nil {
			return nil, fmt.Errorf("candle row %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// parseCandle decodes [timestamp, open, high, low, close, volume].
func parseCandle(row []json.RawMessage) (Candle, error) {
	var c Candle
	if len(row) < 6 {
		return c, fmt.Errorf("expected 6 fields, got %d", len(row))
	}
	var ts string
	if err := json.Unmarshal(row[0], &ts); err != nil {
		return c, err
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return c, err
	}
	c.Time = t
	for i, dst := range []*float64{&c.Open, &c.High, &c.Low, &c.Close} {
		if err := json.Unmarshal(row[i+1], dst); err != nil {
			return c, err
		}
	}
	var vol float64
	if err := json.Unmarshal(row[5], &vol); err != nil {
		return c, err
	}
	c.Volume = int64(vol)
	return c, nil
}

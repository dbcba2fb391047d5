// Package csvfile loads daily bars from CSV files, one file per symbol.
//
// Files are named <SYMBOL>.csv and carry a header row. Columns are matched
// by name, case-insensitively: Date, Open, High, Low, Close, Volume, and an
// optional "Adj Close" used in place of Close when UseAdjClose is set. Empty,
// "null" and "NaN" cells are undefined values.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"quant-signals/internal/marketdata"
	"quant-signals/internal/model"
)

// Loader implements marketdata.Loader over a directory of CSV files.
type Loader struct {
	dir         string
	useAdjClose bool
}

// New creates a loader reading <dir>/<SYMBOL>.csv.
func New(dir string, useAdjClose bool) *Loader {
	return &Loader{dir: dir, useAdjClose: useAdjClose}
}

// Path returns the file a symbol is read from.
func (l *Loader) Path(symbol string) string {
	return filepath.Join(l.dir, strings.ToUpper(symbol)+".csv")
}

func (l *Loader) Load(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return model.PriceSeries{}, err
	}
	f, err := os.Open(l.Path(symbol))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.PriceSeries{}, fmt.Errorf("%s: no file %s: %w", symbol, l.Path(symbol), marketdata.ErrDataUnavailable)
		}
		return model.PriceSeries{}, fmt.Errorf("open %s: %w", symbol, err)
	}
	defer f.Close()

	bars, err := ReadBars(f, l.useAdjClose)
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("read %s: %w", l.Path(symbol), err)
	}
	return marketdata.Normalize(strings.ToUpper(symbol), bars, start, end)
}

// ReadBars parses a bar CSV with a header row.
func ReadBars(r io.Reader, useAdjClose bool) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	dateCol, ok := cols["date"]
	if !ok {
		return nil, fmt.Errorf("missing Date column")
	}
	closeName := "close"
	if _, ok := cols["adj close"]; ok && useAdjClose {
		closeName = "adj close"
	}
	if _, ok := cols[closeName]; !ok {
		return nil, fmt.Errorf("missing Close column")
	}

	var bars []model.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if dateCol >= len(rec) || strings.TrimSpace(rec[dateCol]) == "" {
			continue
		}
		date, err := parseDate(rec[dateCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b := model.Bar{
			Date:  date,
			Open:  field(rec, cols, "open"),
			High:  field(rec, cols, "high"),
			Low:   field(rec, cols, "low"),
			Close: field(rec, cols, closeName),
		}
		if v := field(rec, cols, "volume"); v.Valid {
			b.Volume = int64(v.Float64)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// WriteBars writes bars in the format ReadBars accepts.
func WriteBars(w io.Writer, bars []model.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Date", "Open", "High", "Low", "Close", "Volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		row := []string{
			b.Date.Format(model.DateLayout),
			cell(b.Open), cell(b.High), cell(b.Low), cell(b.Close),
			strconv.FormatInt(b.Volume, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func cell(v model.NullFloat) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}

func field(rec []string, cols map[string]int, name string) model.NullFloat {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return model.Null
	}
	s := strings.TrimSpace(rec[i])
	switch strings.ToLower(s) {
	case "", "null", "nan":
		return model.Null
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return model.Null
	}
	return model.Float(v)
}

var dateLayouts = []string{model.DateLayout, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04:05-07:00"}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

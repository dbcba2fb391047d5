package render

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"quant-signals/internal/logger"
	"quant-signals/internal/model"
)

// CSVRenderer writes one CSV file per panel into Dir, named
// "<strategy>_<panel>.csv". Columns: date, one per series, one per
// horizontal line, then the marker kind for the date (empty when none).
type CSVRenderer struct {
	Dir string
}

// NewCSVRenderer returns a renderer writing under dir.
func NewCSVRenderer(dir string) *CSVRenderer {
	return &CSVRenderer{Dir: dir}
}

func (r *CSVRenderer) Render(ctx context.Context, chart Chart) error {
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, p := range chart.Panels {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(r.Dir, fileName(chart.Strategy, p.Name))
		if err := writePanel(path, p); err != nil {
			return fmt.Errorf("panel %s: %w", p.Name, err)
		}
		slog.Info("panel written", append(logger.LogWithRun(ctx), "path", path, "rows", len(p.Dates))...)
	}
	return nil
}

func writePanel(path string, p Panel) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	markers := make(map[string]MarkerKind, len(p.Markers))
	for _, m := range p.Markers {
		markers[m.Date.Format(model.DateLayout)] = m.Kind
	}

	w := csv.NewWriter(f)
	header := []string{"date"}
	for _, s := range p.Series {
		header = append(header, s.Name)
	}
	for _, h := range p.HLines {
		header = append(header, h.Name)
	}
	header = append(header, "marker")
	if err := w.Write(header); err != nil {
		return err
	}

	for i, d := range p.Dates {
		date := d.Format(model.DateLayout)
		rec := make([]string, 0, len(header))
		rec = append(rec, date)
		for _, s := range p.Series {
			rec = append(rec, cell(s.Values, i))
		}
		for _, h := range p.HLines {
			rec = append(rec, strconv.FormatFloat(h.Value, 'f', -1, 64))
		}
		rec = append(rec, string(markers[date]))
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func cell(values []model.NullFloat, i int) string {
	if i >= len(values) || !values[i].Valid {
		return ""
	}
	return strconv.FormatFloat(values[i].Float64, 'f', -1, 64)
}

func fileName(strategy, panel string) string {
	clean := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
				return r
			case r >= 'A' && r <= 'Z':
				return r + ('a' - 'A')
			default:
				return '_'
			}
		}, s)
	}
	return clean(strategy) + "_" + clean(panel) + ".csv"
}

package csvfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quant-signals/internal/marketdata"
	"quant-signals/internal/model"
)

// DumpLoader writes every series loaded through it to <dir>/<SYMBOL>.csv,
// so a later run can replay the same prices with the csv source.
type DumpLoader struct {
	next marketdata.Loader
	dir  string
}

// NewDumpLoader wraps next, dumping into dir.
func NewDumpLoader(next marketdata.Loader, dir string) *DumpLoader {
	return &DumpLoader{next: next, dir: dir}
}

func (d *DumpLoader) Load(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	series, err := d.next.Load(ctx, symbol, start, end)
	if err != nil {
		return series, err
	}
	if err := d.write(series); err != nil {
		return model.PriceSeries{}, fmt.Errorf("dump %s: %w", series.Symbol, err)
	}
	return series, nil
}

func (d *DumpLoader) write(series model.PriceSeries) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(d.dir, strings.ToUpper(series.Symbol)+".csv")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteBars(f, series.Bars); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	slog.Debug("dumped price series", "symbol", series.Symbol, "path", path, "bars", series.Len())
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quant-signals/internal/marketdata"
	"quant-signals/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to cached bars and stored runs.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	return &Reader{db: db}, nil
}

// HasRange reports whether [key.Start, key.End) was stored by WriteRange.
func (r *Reader) HasRange(ctx context.Context, key marketdata.CacheKey) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM bar_ranges
		WHERE source = ? AND symbol = ? AND start_date = ? AND end_date = ?
	`, key.Source, key.Symbol, key.Start.Format(model.DateLayout), key.End.Format(model.DateLayout)).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite query bar_ranges: %w", err)
	}
	return true, nil
}

// ReadBars reads bars with start <= date < end ordered by date. A zero end
// reads to the last stored date.
func (r *Reader) ReadBars(ctx context.Context, source, symbol string, start, end time.Time) ([]model.Bar, error) {
	endKey := "9999-12-31"
	if !end.IsZero() {
		endKey = end.Format(model.DateLayout)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume
		FROM bars
		WHERE source = ? AND symbol = ? AND date >= ? AND date < ?
		ORDER BY date ASC
	`, source, symbol, start.Format(model.DateLayout), endKey)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var (
			date                   string
			open, high, low, close sql.NullFloat64
			volume                 sql.NullInt64
		)
		if err := rows.Scan(&date, &open, &high, &low, &close, &volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		d, err := time.Parse(model.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("sqlite bad date %q: %w", date, err)
		}
		bars = append(bars, model.Bar{
			Date:   d,
			Open:   fromNullable(open),
			High:   fromNullable(high),
			Low:    fromNullable(low),
			Close:  fromNullable(close),
			Volume: volume.Int64,
		})
	}
	return bars, rows.Err()
}

// ListRuns returns the most recent runs, newest first. An empty strategy
// lists every strategy. Params and Summary are returned as json.RawMessage.
func (r *Reader) ListRuns(ctx context.Context, strategy string, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, strategy, symbols, start_date, end_date, params, summary, row_count, created_at
		FROM backtest_runs
		WHERE ? = '' OR strategy = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, strategy, strategy, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query runs: %w", err)
	}
	defer rows.Close()

	var out []model.RunRecord
	for rows.Next() {
		var (
			rec                 model.RunRecord
			symbols, start, end string
			params, summary     sql.NullString
			createdNano         int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Strategy, &symbols, &start, &end, &params, &summary, &rec.Rows, &createdNano); err != nil {
			return nil, fmt.Errorf("sqlite scan runs: %w", err)
		}
		if err := json.Unmarshal([]byte(symbols), &rec.Symbols); err != nil {
			return nil, fmt.Errorf("unmarshal symbols: %w", err)
		}
		rec.Start, _ = time.Parse(model.DateLayout, start)
		rec.End, _ = time.Parse(model.DateLayout, end)
		rec.Params = json.RawMessage(params.String)
		rec.Summary = json.RawMessage(summary.String)
		rec.Created = time.Unix(0, createdNano).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

func fromNullable(v sql.NullFloat64) model.NullFloat {
	if !v.Valid {
		return model.Null
	}
	return model.Float(v.Float64)
}

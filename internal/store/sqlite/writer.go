package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"quant-signals/internal/marketdata"
	"quant-signals/internal/metrics"
	"quant-signals/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// dsnOptions enables WAL so the reader can query while the writer commits.
const dsnOptions = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath  string // path to SQLite database file, e.g. "data/backtest.db"
	Metrics *metrics.Metrics
}

// Writer is the single SQLite writer. Every write is one transaction.
type Writer struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database with WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite database opened", "path", cfg.DBPath)
	return &Writer{db: db, metrics: cfg.Metrics}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			source  TEXT    NOT NULL,
			symbol  TEXT    NOT NULL,
			date    TEXT    NOT NULL,
			open    REAL,
			high    REAL,
			low     REAL,
			close   REAL,
			volume  INTEGER,
			PRIMARY KEY (source, symbol, date)
		);

		CREATE TABLE IF NOT EXISTS bar_ranges (
			source     TEXT    NOT NULL,
			symbol     TEXT    NOT NULL,
			start_date TEXT    NOT NULL,
			end_date   TEXT    NOT NULL,
			fetched_at INTEGER NOT NULL,
			PRIMARY KEY (source, symbol, start_date, end_date)
		);

		CREATE TABLE IF NOT EXISTS backtest_runs (
			run_id     TEXT    PRIMARY KEY,
			strategy   TEXT    NOT NULL,
			symbols    TEXT    NOT NULL,
			start_date TEXT    NOT NULL,
			end_date   TEXT    NOT NULL,
			params     TEXT,
			summary    TEXT,
			row_count  INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_strategy ON backtest_runs (strategy, created_at);
	`)
	return err
}

// WriteRange stores the bars of a completed load and records that the
// range [key.Start, key.End) is cached, in a single transaction.
func (w *Writer) WriteRange(ctx context.Context, key marketdata.CacheKey, bars []model.Bar) error {
	start := time.Now()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (source, symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx, key.Source, key.Symbol, b.Date.Format(model.DateLayout),
			nullable(b.Open), nullable(b.High), nullable(b.Low), nullable(b.Close), b.Volume)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO bar_ranges (source, symbol, start_date, end_date, fetched_at)
		VALUES (?, ?, ?, ?, ?)
	`, key.Source, key.Symbol, key.Start.Format(model.DateLayout), key.End.Format(model.DateLayout), time.Now().Unix())
	if err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	w.metrics.ObserveSQLiteCommit(time.Since(start))
	slog.Debug("sqlite committed bars", "key", key.String(), "bars", len(bars), "took", time.Since(start))
	return nil
}

// SaveRun stores one backtest run. Params and Summary are stored as JSON.
func (w *Writer) SaveRun(ctx context.Context, rec model.RunRecord) error {
	symbols, err := json.Marshal(rec.Symbols)
	if err != nil {
		return fmt.Errorf("marshal symbols: %w", err)
	}
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	created := rec.Created
	if created.IsZero() {
		created = time.Now()
	}

	_, err = w.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_runs (run_id, strategy, symbols, start_date, end_date, params, summary, row_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.Strategy, string(symbols), rec.Start.Format(model.DateLayout), rec.End.Format(model.DateLayout),
		string(params), string(summary), rec.Rows, created.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite save run %s: %w", rec.RunID, err)
	}
	return nil
}

// Close closes the writer.
func (w *Writer) Close() error {
	return w.db.Close()
}

func nullable(v model.NullFloat) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v.Float64, Valid: v.Valid}
}

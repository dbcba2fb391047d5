package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"quant-signals/config"
	"quant-signals/internal/marketdata/csvfile"
	"quant-signals/internal/model"
)

func writeCSV(t *testing.T, dir, symbol string, closes []float64) {
	t.Helper()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		p := model.Float(c)
		bars[i] = model.Bar{Date: start.AddDate(0, 0, i), Open: p, High: p, Low: p, Close: p, Volume: 1000}
	}
	var buf bytes.Buffer
	if err := csvfile.WriteBars(&buf, bars); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, symbol+".csv"), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMACDCommand_CSVSourceEndToEnd(t *testing.T) {
	dataDir, outDir := t.TempDir(), t.TempDir()
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i%10)
	}
	writeCSV(t, dataDir, "MU", closes)
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	_, err := execute(t, "macd", "MU",
		"--source=csv", "--csv-dir="+dataDir, "--out="+outDir, "--sqlite="+dbPath,
		"--start=2020-01-01", "--end=2020-12-31", "--fast=3", "--slow=6", "--signal=3", "--log-level=error")
	if err != nil {
		t.Fatal(err)
	}
	for _, panel := range []string{"price", "macd", "performance"} {
		if _, err := os.Stat(filepath.Join(outDir, "macd_"+panel+".csv")); err != nil {
			t.Errorf("panel %s not written: %v", panel, err)
		}
	}

	out, err := execute(t, "runs", "--sqlite="+dbPath, "--strategy=macd")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "macd-") || !strings.Contains(out, "[MU]") {
		t.Errorf("runs output = %q", out)
	}
}

func TestMACDCommand_DumpWritesReplayableCSV(t *testing.T) {
	dataDir, dumpDir := t.TempDir(), filepath.Join(t.TempDir(), "dump")
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 50 + float64(i%7)
	}
	writeCSV(t, dataDir, "MU", closes)

	_, err := execute(t, "macd", "MU", "--source=csv", "--csv-dir="+dataDir, "--dump="+dumpDir,
		"--start=2020-01-01", "--end=2020-12-31", "--log-level=error")
	if err != nil {
		t.Fatal(err)
	}
	s, err := csvfile.New(dumpDir, false).Load(context.Background(), "MU", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != len(closes) || s.Bars[3].Close.Float64 != closes[3] {
		t.Errorf("dumped series = %d bars", s.Len())
	}
}

func TestPairsCommand_RejectsOneSymbol(t *testing.T) {
	if _, err := execute(t, "pairs", "GLD"); err == nil {
		t.Fatal("expected argument error")
	}
}

func TestPairsCommand_InvalidWindow(t *testing.T) {
	_, err := execute(t, "pairs", "--source=csv", "--csv-dir="+t.TempDir(), "--window=1", "--log-level=error")
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestPairsCommand_MissingDataFails(t *testing.T) {
	_, err := execute(t, "pairs", "AAA", "BBB", "--source=csv", "--csv-dir="+t.TempDir(), "--log-level=error")
	if err == nil || !strings.Contains(err.Error(), "price data unavailable") {
		t.Errorf("expected data unavailable, got %v", err)
	}
}

func TestRunsCommand_RequiresSQLite(t *testing.T) {
	t.Setenv("SQLITE_PATH", "")
	if _, err := execute(t, "runs"); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

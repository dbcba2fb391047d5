package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"quant-signals/config"
	"quant-signals/internal/backtest"
	"quant-signals/internal/marketdata"
	"quant-signals/internal/marketdata/csvfile"
	"quant-signals/internal/marketdata/smartapi"
	"quant-signals/internal/marketdata/yahoo"
	"quant-signals/internal/metrics"
	"quant-signals/internal/model"
	"quant-signals/internal/notification"
	"quant-signals/internal/render"
	redisstore "quant-signals/internal/store/redis"
	sqlitestore "quant-signals/internal/store/sqlite"
	"quant-signals/pkg/smartconnect"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const livenessInterval = 10 * time.Second

// app owns every long-lived dependency of one CLI invocation.
type app struct {
	cfg     *config.Config
	runner  *backtest.Runner
	hub     *render.Hub
	servers chan error
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, servers: make(chan error, 2)}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()

	base, err := newLoader(cfg, m)
	if err != nil {
		return nil, err
	}

	// Caches: Redis first (fast, shared), then SQLite (durable). Either may
	// be absent; an unreachable Redis only costs the cache.
	var (
		caches   []marketdata.Cache
		recorder model.RunRecorder
		rdb      *goredis.Client
		sqlDB    *sql.DB
	)
	if cfg.RedisAddr != "" {
		rc, err := redisstore.New(ctx, redisstore.CacheConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      cfg.CacheTTL,
			Metrics:  m,
		})
		if err != nil {
			slog.Warn("redis cache disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			caches = append(caches, rc)
			rdb = rc.Client()
			a.closers = append(a.closers, rc.Close)
		}
	}
	if cfg.SQLitePath != "" {
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath, Metrics: m})
		if err != nil {
			a.Close()
			return nil, err
		}
		r, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			w.Close()
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, r.Close, w.Close)
		caches = append(caches, sqlitestore.NewCache(w, r))
		recorder = w
		sqlDB = w.DB()
	}

	var loader marketdata.Loader = base
	if len(caches) > 0 {
		loader = marketdata.NewCachedLoader(cfg.Source, base, m, caches...)
	}
	if cfg.DumpDir != "" {
		loader = csvfile.NewDumpLoader(loader, cfg.DumpDir)
	}
	if rdb != nil || sqlDB != nil {
		health.StartLivenessChecker(ctx, rdb, sqlDB, livenessInterval)
	}

	renderers := render.Multi{render.NewSummaryRenderer(os.Stdout)}
	if cfg.OutputDir != "" {
		renderers = append(renderers, render.NewCSVRenderer(cfg.OutputDir))
	}
	if cfg.ChartAddr != "" {
		a.hub = render.NewHub(m)
		renderers = append(renderers, a.hub)
		go func() { a.servers <- a.hub.Serve(ctx, cfg.ChartAddr) }()
	}
	if cfg.MetricsAddr != "" {
		go func() { a.servers <- metrics.Serve(ctx, cfg.MetricsAddr, reg, health) }()
	}

	a.runner = &backtest.Runner{
		Loader:   loader,
		Source:   cfg.Source,
		Renderer: renderers,
		Recorder: recorder,
		Notifier: newNotifier(cfg),
		Metrics:  m,
		Health:   health,
		Summary:  cfg.Summary,
	}
	return a, nil
}

func newLoader(cfg *config.Config, m *metrics.Metrics) (marketdata.Loader, error) {
	retry := marketdata.DefaultRetryConfig()
	switch cfg.Source {
	case marketdata.SourceYahoo:
		return yahoo.New(yahoo.Config{AdjustPrices: cfg.UseAdjClose, Retry: retry, Metrics: m}), nil
	case marketdata.SourceCSV:
		return csvfile.New(cfg.CSVDir, cfg.UseAdjClose), nil
	case marketdata.SourceSmartAPI:
		client := smartconnect.NewSmartConnect(smartconnect.Config{APIKey: cfg.Angel.APIKey})
		return smartapi.New(client, smartapi.Config{
			Credentials: smartapi.Credentials{
				ClientCode: cfg.Angel.ClientCode,
				Password:   cfg.Angel.Password,
				TOTPSecret: cfg.Angel.TOTPSecret,
			},
			DefaultExchange: cfg.Angel.Exchange,
			Retry:           retry,
			Metrics:         m,
		}), nil
	}
	return nil, fmt.Errorf("%w: unknown source %q", config.ErrInvalidConfig, cfg.Source)
}

func newNotifier(cfg *config.Config) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		n = append(n, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return n
}

// wait blocks while a chart server is configured, so clients can keep
// reading the results, until the context is cancelled or a server fails.
func (a *app) wait(ctx context.Context) error {
	if a.hub == nil {
		return nil
	}
	slog.Info("serving charts, press Ctrl+C to exit", "addr", a.cfg.ChartAddr)
	select {
	case <-ctx.Done():
		return nil
	case err := <-a.servers:
		return err
	}
}

// Close releases stores in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func listRuns(ctx context.Context, path, strategy string, limit int) ([]model.RunRecord, error) {
	r, err := sqlitestore.NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ListRuns(ctx, strategy, limit)
}

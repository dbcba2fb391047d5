package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the backtest pipeline.
//
// A nil *Metrics is valid; every recording method is then a no-op so that
// library callers and tests do not need a registry.
type Metrics struct {
	RunsTotal  *prometheus.CounterVec   // labels: strategy, outcome
	LoadDur    *prometheus.HistogramVec // labels: source
	ComputeDur *prometheus.HistogramVec // labels: strategy
	RowsTotal  *prometheus.CounterVec   // labels: strategy

	// Signal metrics
	CrossoversTotal   *prometheus.CounterVec // labels: direction
	PairSignalsTotal  *prometheus.CounterVec // labels: signal
	UnhandledPairRows prometheus.Counter

	// Price cache
	CacheHits   *prometheus.CounterVec // labels: backend
	CacheMisses *prometheus.CounterVec // labels: backend
	CacheErrors *prometheus.CounterVec // labels: backend
	LoadRetries prometheus.Counter

	SQLiteCommitDur prometheus.Histogram

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Chart server
	ChartClients    prometheus.Gauge
	ChartsPublished prometheus.Counter

	LastRunTimestamp *prometheus.GaugeVec // labels: strategy
}

// NewMetrics creates all metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_runs_total",
			Help: "Backtest runs by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		LoadDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backtest_load_duration_seconds",
			Help:    "Price series load latency by source",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		ComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backtest_compute_duration_seconds",
			Help:    "Indicator, signal and return computation latency",
			Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"strategy"}),
		RowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_rows_total",
			Help: "Table rows derived by strategy",
		}, []string{"strategy"}),

		CrossoversTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_macd_crossovers_total",
			Help: "MACD crossover events (buy, sell)",
		}, []string{"direction"}),
		PairSignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_pair_signals_total",
			Help: "Pairs rows by trade signal",
		}, []string{"signal"}),
		UnhandledPairRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_pair_unhandled_rows_total",
			Help: "Pairs rows that qualified for a trade but matched no rule",
		}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_price_cache_hits_total",
			Help: "Price cache hits by backend",
		}, []string{"backend"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_price_cache_misses_total",
			Help: "Price cache misses by backend",
		}, []string{"backend"}),
		CacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_price_cache_errors_total",
			Help: "Price cache read/write failures by backend",
		}, []string{"backend"}),
		LoadRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_load_retries_total",
			Help: "Remote price fetch retries",
		}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		ChartClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_chart_clients",
			Help: "Connected chart websocket clients",
		}),
		ChartsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_charts_published_total",
			Help: "Charts broadcast to websocket clients",
		}),

		LastRunTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backtest_last_run_timestamp_seconds",
			Help: "Unix time of the last completed run by strategy",
		}, []string{"strategy"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.LoadDur,
		m.ComputeDur,
		m.RowsTotal,
		m.CrossoversTotal,
		m.PairSignalsTotal,
		m.UnhandledPairRows,
		m.CacheHits,
		m.CacheMisses,
		m.CacheErrors,
		m.LoadRetries,
		m.SQLiteCommitDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.ChartClients,
		m.ChartsPublished,
		m.LastRunTimestamp,
	)

	return m
}

// ObserveRun records the outcome of one run.
func (m *Metrics) ObserveRun(strategy string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RunsTotal.WithLabelValues(strategy, outcome).Inc()
	if err == nil {
		m.LastRunTimestamp.WithLabelValues(strategy).SetToCurrentTime()
	}
}

// ObserveLoad records a price load latency.
func (m *Metrics) ObserveLoad(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.LoadDur.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveCompute records pipeline compute latency and the number of rows derived.
func (m *Metrics) ObserveCompute(strategy string, d time.Duration, rows int) {
	if m == nil {
		return
	}
	m.ComputeDur.WithLabelValues(strategy).Observe(d.Seconds())
	m.RowsTotal.WithLabelValues(strategy).Add(float64(rows))
}

// ObserveCrossovers records MACD buy and sell events.
func (m *Metrics) ObserveCrossovers(buys, sells int) {
	if m == nil {
		return
	}
	m.CrossoversTotal.WithLabelValues("buy").Add(float64(buys))
	m.CrossoversTotal.WithLabelValues("sell").Add(float64(sells))
}

// ObservePairSignal records one classified pairs row.
func (m *Metrics) ObservePairSignal(signal string, unhandled bool) {
	if m == nil {
		return
	}
	m.PairSignalsTotal.WithLabelValues(signal).Inc()
	if unhandled {
		m.UnhandledPairRows.Inc()
	}
}

// ObserveCache records a cache lookup result for backend.
func (m *Metrics) ObserveCache(backend string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(backend).Inc()
	} else {
		m.CacheMisses.WithLabelValues(backend).Inc()
	}
}

// ObserveCacheError records a failed cache operation for backend.
func (m *Metrics) ObserveCacheError(backend string) {
	if m == nil {
		return
	}
	m.CacheErrors.WithLabelValues(backend).Inc()
}

// ObserveRetry records one retry of a remote fetch.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.LoadRetries.Inc()
}

// ObserveSQLiteCommit records a batch commit latency.
func (m *Metrics) ObserveSQLiteCommit(d time.Duration) {
	if m == nil {
		return
	}
	m.SQLiteCommitDur.Observe(d.Seconds())
}

// SetBreakerState exports the circuit breaker state; trips count transitions to open.
func (m *Metrics) SetBreakerState(state int, tripped bool) {
	if m == nil {
		return
	}
	m.RedisCircuitBreakerState.Set(float64(state))
	if tripped {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// SetChartClients exports the number of connected chart clients.
func (m *Metrics) SetChartClients(n int) {
	if m == nil {
		return
	}
	m.ChartClients.Set(float64(n))
}

// ObserveChartPublished counts one chart broadcast.
func (m *Metrics) ObserveChartPublished() {
	if m == nil {
		return
	}
	m.ChartsPublished.Inc()
}

// HealthStatus represents the health of the storage backends and the last run.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastRunAt      time.Time `json:"last_run_at"`
	LastRunOK      bool      `json:"last_run_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	redisEnabled  bool
	sqliteEnabled bool
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

// SetLastRun records the completion of a run.
func (h *HealthStatus) SetLastRun(ok bool) {
	h.mu.Lock()
	h.LastRunAt = time.Now()
	h.LastRunOK = ok
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.redisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.sqliteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil backends are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. Backends that were never probed
// do not degrade the status.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.redisEnabled && !h.RedisConnected
	sqliteDown := h.sqliteEnabled && !h.SQLiteOK
	if redisDown || sqliteDown || (!h.LastRunAt.IsZero() && !h.LastRunOK) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	lastRun := ""
	if !h.LastRunAt.IsZero() {
		lastRun = h.LastRunAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastRunAt       string  `json:"last_run_at"`
		LastRunOK       bool    `json:"last_run_ok"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastRunAt:       lastRun,
		LastRunOK:       h.LastRunOK,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Handler returns a mux exposing /metrics for reg and /healthz for health.
func Handler(reg prometheus.Gatherer, health *HealthStatus) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if health != nil {
		mux.Handle("/healthz", health)
	}
	return mux
}

// Serve exposes /metrics and /healthz on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, reg prometheus.Gatherer, health *HealthStatus) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(reg, health),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Package redis caches loaded price series in Redis behind a circuit breaker.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quant-signals/internal/marketdata"
	"quant-signals/internal/metrics"
	"quant-signals/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	keyPrefix       = "prices:"
	defaultTTL      = 24 * time.Hour
	defaultFailures = 5
	defaultReset    = 10 * time.Second
)

// CacheConfig configures the Redis price cache.
type CacheConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	TTL          time.Duration // entry lifetime; zero means 24h
	MaxFailures  int           // consecutive failures before the breaker opens
	ResetTimeout time.Duration // open duration before a probe
	Metrics      *metrics.Metrics
}

// Cache implements marketdata.Cache over Redis string keys holding the
// JSON-encoded series.
type Cache struct {
	client  *goredis.Client
	ttl     time.Duration
	breaker *CircuitBreaker
	metrics *metrics.Metrics
}

// New connects to Redis and pings it.
func New(ctx context.Context, cfg CacheConfig) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "addr", cfg.Addr)
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultReset
	}

	c := &Cache{
		client:  client,
		ttl:     cfg.TTL,
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		metrics: cfg.Metrics,
	}
	c.breaker.OnStateChange = func(from, to State) {
		slog.Warn("redis circuit breaker transition", "from", from.String(), "to", to.String())
		c.metrics.SetBreakerState(int(to), to == StateOpen)
	}
	return c
}

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.client }

// Breaker exposes the circuit breaker state.
func (c *Cache) Breaker() *CircuitBreaker { return c.breaker }

func (c *Cache) Name() string { return "redis" }

// Get returns the cached series for key. A missing key is a miss, not an error.
func (c *Cache) Get(ctx context.Context, key marketdata.CacheKey) (model.PriceSeries, bool, error) {
	var raw []byte
	err := c.breaker.Execute(func() error {
		b, err := c.client.Get(ctx, keyPrefix+key.String()).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		raw = b
		return err
	})
	if err != nil {
		return model.PriceSeries{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if raw == nil {
		return model.PriceSeries{}, false, nil
	}

	var series model.PriceSeries
	if err := json.Unmarshal(raw, &series); err != nil {
		return model.PriceSeries{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return series, true, nil
}

// Put stores the series under key with the configured TTL.
func (c *Cache) Put(ctx context.Context, key marketdata.CacheKey, series model.PriceSeries) error {
	payload, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	err = c.breaker.Execute(func() error {
		return c.client.Set(ctx, keyPrefix+key.String(), payload, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client.
func (c *Cache) Close() error { return c.client.Close() }

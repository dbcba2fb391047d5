// Package smartapi loads daily candles from Angel One SmartAPI.
//
// Symbols are "EXCHANGE:TOKEN" (NSE:3045) or "EXCHANGE:TRADINGSYMBOL"
// (NSE:SBIN-EQ); trading symbols are resolved to tokens with a scrip search.
// The loader logs in lazily with a TOTP code generated from the account
// secret and reuses the session for later loads.
package smartapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"quant-signals/internal/logger"
	"quant-signals/internal/marketdata"
	"quant-signals/internal/metrics"
	"quant-signals/internal/model"
	"quant-signals/pkg/smartconnect"
)

// Credentials for the password + TOTP login.
type Credentials struct {
	ClientCode string
	Password   string
	TOTPSecret string // base32 secret from the authenticator enrolment
}

// Config configures the loader.
type Config struct {
	Credentials     Credentials
	DefaultExchange string // default: NSE
	Retry           marketdata.RetryConfig
	Metrics         *metrics.Metrics

	// Now is the clock used for TOTP codes. Defaults to time.Now.
	Now func() time.Time
}

// Loader implements marketdata.Loader on top of a SmartConnect client.
type Loader struct {
	client *smartconnect.SmartConnect
	cfg    Config

	mu       sync.Mutex
	loggedIn bool
	tokens   map[string]string // "NSE:SBIN-EQ" -> "3045"
}

// New creates a Loader. The client is not contacted until the first Load.
func New(client *smartconnect.SmartConnect, cfg Config) *Loader {
	if cfg.DefaultExchange == "" {
		cfg.DefaultExchange = "NSE"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Retry.OnRetry == nil && cfg.Metrics != nil {
		m := cfg.Metrics
		cfg.Retry.OnRetry = func(int, error) { m.ObserveRetry() }
	}
	return &Loader{client: client, cfg: cfg, tokens: make(map[string]string)}
}

func (l *Loader) login(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loggedIn {
		return nil
	}

	code, err := totp.GenerateCode(l.cfg.Credentials.TOTPSecret, l.cfg.Now())
	if err != nil {
		return fmt.Errorf("generate totp: %w", err)
	}
	if _, err := l.client.GenerateSession(ctx, l.cfg.Credentials.ClientCode, l.cfg.Credentials.Password, code); err != nil {
		return err
	}
	l.loggedIn = true
	return nil
}

// resolve maps an instrument to its numeric symbol token.
func (l *Loader) resolve(ctx context.Context, inst model.Instrument) (string, error) {
	if isNumeric(inst.Token) {
		return inst.Token, nil
	}

	l.mu.Lock()
	tok, ok := l.tokens[inst.Key()]
	l.mu.Unlock()
	if ok {
		return tok, nil
	}

	scrips, err := l.client.SearchScrip(ctx, inst.Exchange, inst.Token)
	if err != nil {
		return "", err
	}
	for _, s := range scrips {
		if strings.EqualFold(s.TradingSymbol, inst.Token) {
			l.mu.Lock()
			l.tokens[inst.Key()] = s.SymbolToken
			l.mu.Unlock()
			return s.SymbolToken, nil
		}
	}
	return "", fmt.Errorf("%s: no scrip match: %w", inst.Key(), marketdata.ErrDataUnavailable)
}

func (l *Loader) Load(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	inst, err := model.ParseInstrument(symbol, l.cfg.DefaultExchange)
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("%v: %w", err, marketdata.ErrDataUnavailable)
	}

	err = marketdata.WithRetry(ctx, l.cfg.Retry, func(ctx context.Context) error {
		return l.login(ctx)
	})
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("smartapi login: %w", err)
	}

	token, err := l.resolve(ctx, inst)
	if err != nil {
		return model.PriceSeries{}, err
	}

	var bars []model.Bar
	for _, w := range chunks(start, end, smartconnect.MaxDaysPerRequest) {
		var candles []smartconnect.Candle
		err := marketdata.WithRetry(ctx, l.cfg.Retry, func(ctx context.Context) error {
			var err error
			candles, err = l.client.GetCandleData(ctx, smartconnect.CandleParams{
				Exchange:    inst.Exchange,
				SymbolToken: token,
				Interval:    smartconnect.IntervalOneDay,
				From:        w[0],
				To:          w[1],
			})
			return err
		})
		if err != nil {
			if errors.Is(err, smartconnect.ErrNotLoggedIn) {
				l.mu.Lock()
				l.loggedIn = false
				l.mu.Unlock()
			}
			return model.PriceSeries{}, fmt.Errorf("smartapi candles %s: %w", inst.Key(), err)
		}
		for _, c := range candles {
			bars = append(bars, toBar(c))
		}
	}

	slog.Debug("smartapi candles loaded", append(logger.LogWithRun(ctx),
		"symbol", inst.Key(), "token", token, "bars", len(bars))...)
	return marketdata.Normalize(symbol, bars, start, end)
}

// toBar keeps the exchange calendar date of the candle.
func toBar(c smartconnect.Candle) model.Bar {
	y, m, d := c.Time.In(smartconnect.IST).Date()
	return model.Bar{
		Date:   time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Open:   model.Float(c.Open),
		High:   model.Float(c.High),
		Low:    model.Float(c.Low),
		Close:  model.Float(c.Close),
		Volume: c.Volume,
	}
}

// chunks splits [start, end) into windows of at most days days.
func chunks(start, end time.Time, days int) [][2]time.Time {
	var out [][2]time.Time
	for from := start; from.Before(end); {
		to := from.AddDate(0, 0, days)
		if to.After(end) {
			to = end
		}
		out = append(out, [2]time.Time{from, to})
		from = to
	}
	return out
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// cmd/backtest runs the MACD momentum and rolling-correlation pairs
// backtests over daily prices.
//
// Usage:
//
//	go run ./cmd/backtest macd MU --start=2015-01-01 --end=2025-10-31
//	go run ./cmd/backtest pairs GLD UUP --window=60 --threshold=-0.5
//	go run ./cmd/backtest runs --strategy=pairs
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"quant-signals/config"
	"quant-signals/internal/backtest"
	"quant-signals/internal/logger"
	"quant-signals/internal/model"
	"quant-signals/internal/strategy"

	"github.com/spf13/cobra"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	configPath  string
	source      string
	csvDir      string
	outDir      string
	dumpDir     string
	serveAddr   string
	metricsAddr string
	sqlitePath  string
	redisAddr   string
	logLevel    string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Daily-bar signal backtester",
		Long: `backtest runs a MACD momentum strategy on one instrument or a
negative-correlation pairs strategy on two, and reports compounded returns.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&opts.source, "source", "", "price source: yahoo|smartapi|csv")
	pf.StringVar(&opts.csvDir, "csv-dir", "", "directory of <SYMBOL>.csv files for the csv source")
	pf.StringVar(&opts.outDir, "out", "", "write one CSV per chart panel into this directory")
	pf.StringVar(&opts.dumpDir, "dump", "", "write each loaded price series to <dir>/<SYMBOL>.csv for replay with --source=csv")
	pf.StringVar(&opts.serveAddr, "serve", "", "serve charts over websocket on this address and keep running")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "expose /metrics and /healthz on this address")
	pf.StringVar(&opts.sqlitePath, "sqlite", "", "SQLite database for the price cache and run history")
	pf.StringVar(&opts.redisAddr, "redis", "", "Redis address for the price cache")
	pf.StringVar(&opts.logLevel, "log-level", "", "debug|info|warn|error")

	rootCmd.AddCommand(newMACDCmd(opts))
	rootCmd.AddCommand(newPairsCmd(opts))
	rootCmd.AddCommand(newRunsCmd(opts))
	return rootCmd
}

// load builds the config: defaults, YAML, environment, then changed flags.
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("source", &cfg.Source, o.source)
	set("csv-dir", &cfg.CSVDir, o.csvDir)
	set("out", &cfg.OutputDir, o.outDir)
	set("dump", &cfg.DumpDir, o.dumpDir)
	set("serve", &cfg.ChartAddr, o.serveAddr)
	set("metrics-addr", &cfg.MetricsAddr, o.metricsAddr)
	set("sqlite", &cfg.SQLitePath, o.sqlitePath)
	set("redis", &cfg.RedisAddr, o.redisAddr)
	set("log-level", &cfg.LogLevel, o.logLevel)

	// JSON logs go to stderr so the summary owns stdout.
	logger.InitWriter(os.Stderr, "backtest", logger.ParseLevel(cfg.LogLevel))
	o.cfg = cfg
	return nil
}

func newMACDCmd(opts *options) *cobra.Command {
	var (
		start, end          string
		fast, slow, signalP int
	)
	cmd := &cobra.Command{
		Use:   "macd [SYMBOL]",
		Short: "Run the MACD momentum backtest",
		Long: `Long when MACD is above its signal line, short when below, flat on a tie.
Example: backtest macd MU --start=2015-01-01 --end=2025-10-31`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if len(args) == 1 {
				cfg.MACD.Symbol = args[0]
			}
			f := cmd.Flags()
			if f.Changed("start") {
				cfg.MACD.Start = start
			}
			if f.Changed("end") {
				cfg.MACD.End = end
			}
			if f.Changed("fast") {
				cfg.MACD.Params.Fast = fast
			}
			if f.Changed("slow") {
				cfg.MACD.Params.Slow = slow
			}
			if f.Changed("signal") {
				cfg.MACD.Params.Signal = signalP
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			from, to, _ := config.ParseRange(cfg.MACD.Start, cfg.MACD.End)

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.runner.MACD(ctx, backtest.MACDRequest{
				Symbol: cfg.MACD.Symbol,
				Start:  from,
				End:    to,
				Params: cfg.MACD.Params,
			})
			if err != nil {
				return err
			}
			return a.wait(ctx)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first date, YYYY-MM-DD (default 2015-01-01)")
	cmd.Flags().StringVar(&end, "end", "", "end date, exclusive, YYYY-MM-DD (default 2025-10-31)")
	cmd.Flags().IntVar(&fast, "fast", 12, "fast EMA span")
	cmd.Flags().IntVar(&slow, "slow", 26, "slow EMA span")
	cmd.Flags().IntVar(&signalP, "signal", 9, "signal line EMA span")
	return cmd
}

func newPairsCmd(opts *options) *cobra.Command {
	var (
		start, end string
		window     int
		threshold  float64
		gapPolicy  string
	)
	cmd := &cobra.Command{
		Use:   "pairs [SYMBOL_A SYMBOL_B]",
		Short: "Run the negative-correlation pairs backtest",
		Long: `Trades the next day's spread when the rolling correlation of daily
returns is below the threshold and both legs moved the same way.
Example: backtest pairs GLD UUP --window=60 --threshold=-0.5`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected 0 or 2 symbols, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if len(args) == 2 {
				cfg.Pairs.SymbolA, cfg.Pairs.SymbolB = args[0], args[1]
			}
			f := cmd.Flags()
			if f.Changed("start") {
				cfg.Pairs.Start = start
			}
			if f.Changed("end") {
				cfg.Pairs.End = end
			}
			if f.Changed("window") {
				cfg.Pairs.Window = window
			}
			if f.Changed("threshold") {
				cfg.Pairs.Threshold = threshold
			}
			if f.Changed("gap-policy") {
				cfg.Pairs.GapPolicy = gapPolicy
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			from, to, _ := config.ParseRange(cfg.Pairs.Start, cfg.Pairs.End)
			policy, _ := strategy.ParseGapPolicy(cfg.Pairs.GapPolicy)

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.runner.Pairs(ctx, backtest.PairsRequest{
				SymbolA: cfg.Pairs.SymbolA,
				SymbolB: cfg.Pairs.SymbolB,
				Start:   from,
				End:     to,
				Params: backtest.PairsParams{
					Window:    cfg.Pairs.Window,
					Threshold: cfg.Pairs.Threshold,
					GapPolicy: policy,
				},
			})
			if err != nil {
				return err
			}
			return a.wait(ctx)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first date, YYYY-MM-DD (default 2008-01-01)")
	cmd.Flags().StringVar(&end, "end", "", "end date, exclusive, YYYY-MM-DD (default 2025-10-31)")
	cmd.Flags().IntVar(&window, "window", 60, "rolling correlation window in rows")
	cmd.Flags().Float64Var(&threshold, "threshold", strategy.DefaultCorrThreshold, "correlation below this is strong")
	cmd.Flags().StringVar(&gapPolicy, "gap-policy", string(strategy.GapNoTrade), "qualifying rows with zero returns: no_trade|error")
	return cmd
}

func newRunsCmd(opts *options) *cobra.Command {
	var (
		strategyName string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored backtest runs from the SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.SQLitePath == "" {
				return fmt.Errorf("runs: %w: sqlite path not set", config.ErrInvalidConfig)
			}
			runs, err := listRuns(cmd.Context(), opts.cfg.SQLitePath, strategyName, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tSTRATEGY\tSYMBOLS\tRANGE\tROWS\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%v\t%s..%s\t%d\t%s\n", r.RunID, r.Strategy, r.Symbols,
					r.Start.Format(model.DateLayout), r.End.Format(model.DateLayout), r.Rows, r.Created.Format("2006-01-02 15:04:05"))
			}
			slog.Debug("runs listed", "count", len(runs))
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&strategyName, "strategy", "", "only runs of this strategy (macd|pairs)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gtoxlili/echoGuard/config"
	"github.com/gtoxlili/echoGuard/exchange"
	"github.com/gtoxlili/echoGuard/ledger"
	"github.com/gtoxlili/echoGuard/llm"
	"github.com/gtoxlili/echoGuard/prompts"
	"github.com/gtoxlili/echoGuard/scheduler"
	"github.com/gtoxlili/echoGuard/trade"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (env vars override)")
	once := flag.Bool("once", false, "run one trading cycle and exit")
	reset := flag.Bool("reset", false, "close all positions, clear the ledger and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *once, *reset); err != nil {
		slog.Error("echoGuard exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("echoGuard stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, once, reset bool) error {
	store, err := ledger.Open(cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	client := exchange.NewBinance(cfg.Exchange)
	syncCtx, cancelSync := context.WithTimeout(ctx, config.ServerTimeSyncTimeout)
	err = client.SyncServerTime(syncCtx)
	cancelSync()
	if err != nil {
		slog.Warn("server time sync failed, using local clock", "error", err)
	}

	if err := config.SyncRiskPolicy(ctx, store, &cfg.Risk); err != nil {
		return err
	}

	slog.Info("echoGuard starting",
		"testnet", cfg.Exchange.Testnet,
		"symbols", cfg.Risk.TradingSymbols,
		"interval", cfg.Interval(),
		"model", cfg.Oracle.Model,
		"dsn", cfg.Storage.DSN,
		"once", once,
	)

	oracle := &lazyOracle{}
	trader := scheduler.NewTrader(client, store, oracle, cfg.Risk,
		scheduler.WithTiming(trade.DefaultTiming),
		scheduler.WithInterval(cfg.Interval()),
		scheduler.WithTestnet(cfg.Exchange.Testnet),
		scheduler.WithReport(os.Stdout),
	)

	if reset {
		return trader.Reset(ctx, config.InitialBalance)
	}

	initial, err := trader.Bootstrap(ctx)
	if err != nil {
		return err
	}
	oracle.Agent = llm.NewAgent(cfg.Oracle, prompts.SystemParams{
		Exchange:        "Binance Futures",
		Symbols:         cfg.Risk.TradingSymbols,
		StartingCapital: initial,
		IntervalMinutes: cfg.Trading.IntervalMinutes,
		MinLeverage:     trade.MinLeverage,
		MaxLeverage:     min(cfg.Risk.MaxLeverage, trade.HardMaxLeverage),
		MaxPositions:    cfg.Risk.MaxPositions,
		MaxHoldingHours: cfg.Risk.MaxHoldingHours,
		MaxDrawdownPct:  cfg.Risk.AccountMaxDrawdownPercent,
	})

	if once {
		err = trader.RunCycle(ctx)
	} else {
		err = scheduler.Run(ctx, trader, cfg.Interval())
	}
	if errors.Is(err, scheduler.ErrHalted) {
		slog.Error("circuit breaker halted trading, manual review required", "error", err)
	}
	return err
}

// lazyOracle 系统提示词依赖初始净值，需在 Bootstrap 之后才能构造 Agent
type lazyOracle struct {
	*llm.Agent
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

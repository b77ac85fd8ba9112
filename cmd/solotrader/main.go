// solotrader runs a single-instrument intraday trading bot against Alpaca:
// one strategy, one position at a time, durable state across restarts.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"solotrader/internal/broker"
	"solotrader/internal/config"
	"solotrader/internal/engine"
	"solotrader/internal/lock"
	"solotrader/internal/metrics"
	"solotrader/internal/notify"
	"solotrader/internal/state"
	"solotrader/internal/store"
	"solotrader/internal/strategy"
	_ "solotrader/internal/strategy/builtins"
	"solotrader/internal/tradelog"
	"solotrader/internal/util"
	"solotrader/internal/web"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "solotrader",
	Short: "Single-instrument intraday trading bot",
	RunE:  func(cmd *cobra.Command, _ []string) error { return runBot(cmd.Context()) },
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and strategy without trading",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		strat, err := strategy.New(cfg.Strategy.Name)
		if err != nil {
			return err
		}
		if _, err := util.NewSessionCalendar(cfg.Schedule.Timezone, cfg.Schedule.SessionOpen, cfg.Schedule.SessionClose); err != nil {
			return err
		}
		fmt.Printf("config ok: symbol=%s strategy=%s bar=%dm\n",
			cfg.Market.Symbol, strat.Name(), cfg.Market.BarMinutes)
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the persisted engine state",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		st := state.NewStore(cfg.Storage.StatePath).Load()
		out, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func main() {
	// Optional .env for broker credentials; a missing file is fine.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config/bot.yaml", "path to the YAML configuration")
	rootCmd.AddCommand(checkCmd, stateCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBot(ctx context.Context) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	log := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(log)

	for _, dir := range []string{cfg.Storage.StatePath, cfg.Storage.TradeLogPath, cfg.Storage.LockPath} {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	// One process per instrument.
	instanceLock := lock.New(cfg.Storage.LockPath)
	if err := instanceLock.Acquire(); err != nil {
		return fmt.Errorf("another instance may be running (pid %d): %w", instanceLock.HolderPID(), err)
	}
	defer instanceLock.Release()

	strat, err := strategy.New(cfg.Strategy.Name)
	if err != nil {
		return err
	}

	cal, err := util.NewSessionCalendar(cfg.Schedule.Timezone, cfg.Schedule.SessionOpen, cfg.Schedule.SessionClose)
	if err != nil {
		return err
	}

	tlog, err := tradelog.Open(cfg.Storage.TradeLogPath)
	if err != nil {
		return err
	}

	var journal store.Journal
	if cfg.Storage.SQLitePath != "" {
		sj, err := store.NewSQLiteJournal(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		if err := sj.Init(ctx); err != nil {
			return fmt.Errorf("initializing journal: %w", err)
		}
		defer sj.Close()
		journal = sj
	}

	var archive store.BarArchive
	if cfg.Storage.DataDir != "" {
		archive = store.NewParquetArchive(cfg.Storage.DataDir)
	}

	notifiers := notify.Multi{notify.NewLogNotifier(log)}
	tg := notify.NewTelegramNotifier(
		cfg.Notifications.Telegram.BotID,
		cfg.Notifications.Telegram.Token,
		cfg.Notifications.Telegram.ChatID,
	)
	if tg.Configured() {
		notifiers = append(notifiers, tg)
	}

	registry := prometheus.NewRegistry()
	met := metrics.New(registry)

	alpaca := broker.NewAlpacaBroker(broker.AlpacaConfig{
		APIKey:            cfg.Alpaca.APIKey,
		APISecret:         cfg.Alpaca.APISecret,
		BaseURL:           cfg.Alpaca.BaseURL,
		DataURL:           cfg.Alpaca.DataURL,
		Symbol:            cfg.Market.Symbol,
		BarMinutes:        cfg.Market.BarMinutes,
		Feed:              cfg.Market.Feed,
		RequestsPerMinute: cfg.Alpaca.RequestsPerMin,
	})

	eng := engine.New(cfg.EngineOptions(), engine.Deps{
		Broker:   alpaca,
		Strategy: strat,
		State:    state.NewStore(cfg.Storage.StatePath),
		TradeLog: tlog,
		Journal:  journal,
		Archive:  archive,
		Calendar: cal,
		Notifier: notifiers,
		Metrics:  met,
		Reload:   config.NewReloader(cfgPath).Check,
	})

	if cfg.Web.Enabled {
		router := web.NewRouter(eng, tlog, registry, cfg.Market.Symbol)
		go func() {
			if err := web.Serve(ctx, router, cfg.Web.Addr, log); err != nil {
				log.Error("http server failed", "err", err)
			}
		}()
	}

	return eng.Run(ctx)
}

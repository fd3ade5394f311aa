package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"DCAVault/internal/adminapi"
	"DCAVault/internal/clock"
	"DCAVault/internal/config"
	"DCAVault/internal/coordinator"
	"DCAVault/internal/cranker"
	"DCAVault/internal/ledger"
	"DCAVault/internal/logging"
	"DCAVault/internal/notifier"
	"DCAVault/internal/recorder"
	"DCAVault/internal/scheduler"
	"DCAVault/internal/venue"

	"github.com/grafana/pyroscope-go"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatal("load config", err)
	}

	slog.SetDefault(logging.NewLogger(logging.Options{Level: cfg.Logging.Level, Dir: cfg.Logging.Dir}))
	slog.Info("DCA vault cranker starting", slog.String("config", cfgPath))

	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}

	if cfg.Profiling.PyroscopeURL != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   cfg.Profiling.PyroscopeURL,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			slog.Warn("pyroscope start failed, continuing without profiling", slog.Any("error", err))
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	clk := clock.Real{}

	// Init ledger
	led, err := ledger.New(ledger.NewFileStore(cfg.Vault.StateFile), clk)
	if err != nil {
		fatal("init ledger", err)
	}
	if v, err := led.Snapshot(); err != nil {
		slog.Warn("vault not initialized yet, run vaultctl init", slog.String("state_file", cfg.Vault.StateFile))
	} else {
		slog.Info("vault loaded",
			slog.Uint64("total_shares", v.TotalShares),
			slog.Int64("next_execution", v.NextExecutionTime))
	}

	// Init venue
	var v venue.Venue
	switch cfg.Venue.Kind {
	case "stub":
		v = venue.NewStub(cfg.Venue.StubRateNum, cfg.Venue.StubRateDen)
	default:
		v = venue.NewHTTPVenue(cfg.Venue.BaseURL, cfg.Venue.RelayURL, cfg.Venue.UserPublicKey, cfg.Proxy)
	}
	slog.Info("venue configured", slog.String("venue", v.Name()))

	coord := coordinator.New(v, clk, coordinator.Options{
		MaxSlippageBps: cfg.Cycle.MaxSlippageBps,
		QuoteTTL:       cfg.QuoteTTL(),
		SubmitTimeout:  cfg.SubmitTimeout(),
		LookupTimeout:  cfg.LookupTimeout(),
	})
	sched := scheduler.New(led, coord, clk, cfg.Cycle.Notional)

	// Init recorder
	var rec recorder.Recorder
	var history adminapi.HistoryReader
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			slog.Warn("init sqlite recorder failed, using noop", slog.Any("error", err))
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			history = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Telegram notifier
	var tn *notifier.TelegramNotifier
	var sender cranker.Sender
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		sender = tn
	}

	units := notifier.Units{StableDecimals: cfg.Vault.StableDecimals, TargetDecimals: cfg.Vault.TargetDecimals}
	ck := cranker.New(ctx, sched, led, rec, sender, units, clk)
	if err := ck.Register(cfg.Cycle.PollCron); err != nil {
		fatal("register cron tasks", err)
	}
	ck.Start()
	defer ck.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, ck.HandleCommand)
		slog.Info("telegram polling started")
	}

	api := adminapi.New(adminapi.Config{
		Ledger:   led,
		Sched:    sched,
		Cranker:  ck,
		Recorder: rec,
		History:  history,
		Clock:    clk,
		Token:    cfg.Admin.Token,
	})
	go func() {
		if err := api.ListenAndServe(ctx, cfg.Admin.Listen); err != nil {
			slog.Error("admin api stopped", slog.Any("error", err))
		}
	}()

	// Optional: run immediately on start
	if cfg.Cycle.RunOnStart {
		slog.Info("RUN_ON_START enabled, polling now")
		go ck.RunNow()
	}

	slog.Info("DCA vault cranker is running", slog.String("poll", cfg.Cycle.PollCron))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutdown signal received, stopping")
	cancel()
}

func fatal(msg string, err error) {
	slog.Error(msg, slog.Any("error", err))
	os.Exit(1)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/yegors/arrival-watch/internal/api"
	"github.com/yegors/arrival-watch/internal/config"
	"github.com/yegors/arrival-watch/internal/delivery"
	"github.com/yegors/arrival-watch/internal/flightradar"
	"github.com/yegors/arrival-watch/internal/monitor"
	"github.com/yegors/arrival-watch/internal/policy"
	"github.com/yegors/arrival-watch/internal/schedule"
	"github.com/yegors/arrival-watch/internal/state"
	"github.com/yegors/arrival-watch/internal/storage/sqlite"
	"github.com/yegors/arrival-watch/internal/tracking"
	"github.com/yegors/arrival-watch/pkg/logger"
)

func main() {
	var cfgPath string
	var commit, dryRun bool
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to config toml")
	flag.BoolVar(&commit, "commit", false, "send notifications (overrides delivery.commit)")
	flag.BoolVar(&dryRun, "dry-run", false, "log notifications instead of sending them")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if commit {
		cfg.Delivery.Commit = true
	}
	if dryRun {
		cfg.Delivery.Commit = false
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Exiting on error", logger.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("Stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	client := flightradar.NewClient(cfg.FlightRadar, log)
	loader := schedule.NewLoader(cfg.Schedule, log)
	normalizer := loader.Normalizer()

	ledger := state.NewLedger(filepath.Join(cfg.State.Dir, cfg.State.LedgerFile), log)
	marker := state.NewArrivalMarker(filepath.Join(cfg.State.Dir, cfg.State.MarkerFile), cfg.Scheduler.DefaultHorizon(), log)
	cache := tracking.NewCache(client, normalizer, cfg.FlightRadar.Airline, cfg.Tracking, log)
	engine := policy.NewEngine(ledger, client, normalizer, cfg.FlightRadar.Airline, cfg.Policy, log)

	deliverer, err := delivery.New(cfg.Delivery, log)
	if err != nil {
		return fmt.Errorf("delivery: %w", err)
	}

	deps := monitor.Dependencies{
		Schedule:  loader,
		Cache:     cache,
		Engine:    engine,
		Ledger:    ledger,
		Marker:    marker,
		Deliverer: deliverer,
	}

	var history *sqlite.NotificationStorage
	if cfg.Storage.SQLitePath != "" {
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("history database: %w", err)
		}
		defer db.Close()

		history, err = sqlite.NewNotificationStorage(db, log)
		if err != nil {
			return fmt.Errorf("history database: %w", err)
		}
		deps.History = history
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Schedule.Reload == config.ReloadWatch {
		watcher := schedule.NewWatcher(cfg.Schedule.Path, log)
		deps.Watcher = watcher
		g.Go(func() error { return watcher.Run(ctx) })
	}

	service := monitor.NewService(deps, monitor.OptionsFromConfig(cfg), log)
	g.Go(func() error { return service.Run(ctx) })

	if cfg.Server.Enabled {
		var h api.NotificationHistory
		if history != nil {
			h = history
		}
		handler := api.NewHandler(ledger, marker, cache, service, h, log)
		server := api.NewServer(api.NewRouter(handler, cfg.Server, log), cfg.Server, log)
		g.Go(func() error { return server.Run(ctx) })
	}

	log.Info("Arrival watch started",
		logger.String("airline", cfg.FlightRadar.Airline),
		logger.String("schedule", cfg.Schedule.Path),
		logger.String("driver", cfg.Delivery.Driver),
		logger.Bool("commit", cfg.Delivery.Commit),
	)

	return g.Wait()
}

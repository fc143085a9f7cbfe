// Package main is the entry point for the trading engine. It wires the
// paper venue, the position archive, the strategy engine and the HTTP
// dashboard, loads the security/service/strategy wiring from the INI
// file, and runs until interrupted.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/alimogh/trdk/internal/account"
	"github.com/alimogh/trdk/internal/archive"
	"github.com/alimogh/trdk/internal/config"
	"github.com/alimogh/trdk/internal/database"
	"github.com/alimogh/trdk/internal/dispatch"
	"github.com/alimogh/trdk/internal/domain"
	"github.com/alimogh/trdk/internal/events"
	"github.com/alimogh/trdk/internal/execution"
	"github.com/alimogh/trdk/internal/reliability"
	"github.com/alimogh/trdk/internal/scheduler"
	"github.com/alimogh/trdk/internal/server"
	"github.com/alimogh/trdk/internal/service"
	"github.com/alimogh/trdk/internal/strategy"
	"github.com/alimogh/trdk/internal/strategy/goldarb"
	"github.com/alimogh/trdk/internal/version"
	"github.com/alimogh/trdk/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Str("version", version.Version).Msg("Starting trading engine")

	// Position archive on the ledger profile: every retired position is
	// fsynced, the audit trail survives a crash.
	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "archive.db"),
		Profile: database.ProfileLedger,
		Name:    "archive",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open archive database")
	}
	defer db.Close()

	repo, err := archive.NewRepository(db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize position archive")
	}

	bus := events.NewBus()
	eventsManager := events.NewManager(bus, log)

	paper := execution.NewPaperTradingSystem(execution.Config{
		InitialCash:     cfg.PaperCash,
		ExcessLiquidity: cfg.PaperExcessLiquidity,
	}, eventsManager, log)

	guard := account.NewGuard(paper, account.Limits{
		MinExcessLiquidity: cfg.MinExcessLiquidity,
		MaxVolume:          cfg.MaxVolume,
	}, log)

	registry := strategy.NewRegistry()
	registry.Register(goldarb.ClassName, goldarb.Factory)

	engine := dispatch.NewEngine(paper, registry, eventsManager, guard, repo, log)

	wiring, err := config.LoadWiring(cfg.WiringFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.WiringFile).Msg("Failed to load wiring")
	}
	if err := applyWiring(engine, wiring, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply wiring")
	}

	if err := engine.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start engine")
	}

	srv := server.New(server.Config{
		Log:      log,
		Engine:   engine,
		Archive:  repo,
		EventBus: bus,
		DB:       db,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	sched := scheduler.New(eventsManager, log)
	if err := sched.AddJob(cfg.ReconcileSchedule, scheduler.NewReconcileJob(engine)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register reconcile job")
	}
	if err := sched.AddJob("@every 1h", scheduler.NewMaintenanceJob(db, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance job")
	}
	if cfg.Backup.Enabled {
		s3, err := reliability.NewS3Client(reliability.S3Config{
			Bucket:    cfg.Backup.Bucket,
			Endpoint:  cfg.Backup.Endpoint,
			Region:    cfg.Backup.Region,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup client")
		}
		backup := reliability.NewBackupService(s3, db, eventsManager, 0, log)
		if err := sched.AddJob(cfg.BackupSchedule, scheduler.NewBackupJob(backup, 0)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
	}
	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	sched.Stop()
	engine.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Engine stopped")
}

// applyWiring registers the securities, services and strategies the
// wiring file declares, in file order so upstream services come first.
func applyWiring(engine *dispatch.Engine, wiring *config.Wiring, log zerolog.Logger) error {
	for _, sw := range wiring.Securities {
		sec := domain.NewSecurity(sw.Symbol, sw.Exchange, sw.Currency, sw.PriceScale, domain.Qty(sw.RoundLot))
		sec.PrimaryExchange = sw.PrimaryExchange
		if err := engine.AddSecurity(sec); err != nil {
			return err
		}
	}

	barServices := make(map[string]*service.BarService)
	for _, sw := range wiring.Services {
		switch sw.Class {
		case "Bars":
			interval, err := sw.Interval(time.Minute)
			if err != nil {
				return err
			}
			sec := engine.FindSecurity(sw.Symbol)
			if sec == nil {
				return domain.NewConfigError("service %s: unknown symbol %q", sw.Name, sw.Symbol)
			}
			bars, err := service.NewBarService(sw.Name, sec, interval, log)
			if err != nil {
				return err
			}
			if err := engine.AddService("bars", bars); err != nil {
				return err
			}
			barServices[sw.Name] = bars

		case "MovingAverage":
			if len(sw.Uses) != 1 {
				return domain.NewConfigError("service %s: MovingAverage needs exactly one uses entry", sw.Name)
			}
			source, ok := barServices[sw.Uses[0]]
			if !ok {
				return domain.NewConfigError("service %s: unknown bar source %q", sw.Name, sw.Uses[0])
			}
			period, err := strconv.Atoi(sw.Params["period"])
			if err != nil || period <= 0 {
				return domain.NewConfigError("service %s: invalid period %q", sw.Name, sw.Params["period"])
			}
			ma, err := service.NewMovingAverageService(sw.Name, source, period, log)
			if err != nil {
				return err
			}
			if err := engine.AddService("ma", ma); err != nil {
				return err
			}

		default:
			return domain.NewConfigError("service %s: unknown class %q", sw.Name, sw.Class)
		}
	}

	for _, sw := range wiring.Strategies {
		if err := engine.AddStrategyWithUses(sw.Class, sw.Name, sw.Params, sw.Uses); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sreeharimv/auction-platform/internal/auction"
	"github.com/sreeharimv/auction-platform/internal/bot"
	"github.com/sreeharimv/auction-platform/internal/clock"
	"github.com/sreeharimv/auction-platform/internal/config"
	"github.com/sreeharimv/auction-platform/internal/event"
	"github.com/sreeharimv/auction-platform/internal/health"
	"github.com/sreeharimv/auction-platform/internal/leader"
	"github.com/sreeharimv/auction-platform/internal/store"
	"github.com/sreeharimv/auction-platform/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/sreeharimv/auction-platform/internal/store/entstore"
	_ "github.com/sreeharimv/auction-platform/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
		tp.Logger = slog.Default()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	// The health server runs on every replica; only the leader is ready.
	mux := http.NewServeMux()
	healthHandler.Register(mux)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting health server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "health server error", slog.Any("error", listenErr))
		}
	}()

	// runAuction owns the engine for one leadership term. It blocks until
	// ctx is done.
	runAuction := func(ctx context.Context) error {
		eng, err := auction.NewEngine(repos.Events, logger, tp.TracerProvider, tp.MeterProvider, clk)
		if err != nil {
			return fmt.Errorf("creating engine: %w", err)
		}
		defer eng.Close()

		if err := resumeOrStart(ctx, eng, cfg, repos.Players, logger); err != nil {
			return err
		}

		projector := store.NewProjector(repos.Players, logger, tp.TracerProvider)
		history, sub := eng.Subscribe(0, event.DefaultBuffer)
		go projector.Run(ctx, eng, history, sub)

		discordBot, err := bot.New(cfg, eng, logger, tp.TracerProvider)
		if err != nil {
			return fmt.Errorf("creating bot: %w", err)
		}
		if err := discordBot.Start(ctx); err != nil {
			return fmt.Errorf("starting bot: %w", err)
		}

		healthHandler.SetSource(eng)
		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "auctiond is running",
			slog.String("version", version),
			slog.String("session_id", eng.SessionID()),
		)

		<-ctx.Done()

		healthHandler.SetReady(false)
		healthHandler.SetSource(nil)
		// Once the lease is gone the log belongs to the next leader.
		if !cfg.LeaderElection.Enabled {
			syncCtx, syncCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			if syncErr := eng.Sync(syncCtx); syncErr != nil {
				logger.Error("final event sync failed", slog.Any("error", syncErr))
			}
			syncCancel()
		}
		if stopErr := discordBot.Stop(); stopErr != nil {
			logger.Error("bot shutdown error", slog.Any("error", stopErr))
		}
		return nil
	}

	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")

		leaderErr := leader.Run(ctx, cfg.LeaderElection, logger,
			func(ctx context.Context) {
				if err := runAuction(ctx); err != nil {
					logger.ErrorContext(ctx, "auction stopped", slog.Any("error", err))
					cancel()
				}
			},
			func() {
				logger.Info("lost leadership, shutting down...")
				cancel()
			},
		)
		if leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else if err := runAuction(ctx); err != nil {
		return err
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}

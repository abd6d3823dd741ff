package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/exstem-proctor/internal/client"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/lockdown"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the exam engine and its local API for the UI shell",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg, log := loadRuntime()
	log.Info().
		Str("addr", cfg.ListenAddr).
		Str("store", cfg.StoreDriver).
		Str("lockdown", cfg.LockDownDriver).
		Str("device", cfg.DeviceID).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator & Metrics ────────────────────────────────
	validator.Setup()
	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Open Local Store ──────────────────────────────────────────────
	kv, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	// ─── Lock-down Device ──────────────────────────────────────────────
	device, err := newDevice(cfg, log)
	if err != nil {
		return err
	}

	// ─── Initialize Services ──────────────────────────────────────────
	timings := config.DefaultTimings
	timings.RemoteTaskTimeout = cfg.GradingAPITimeout
	c := clock.Real()

	api := client.NewGradingClient(cfg.GradingAPIURL, cfg.GradingAPIToken, cfg.DeviceID, cfg.GradingAPITimeout)
	attempts := repository.NewAttemptRepository(kv)
	tasks := service.NewTaskRunner(timings.RemoteTaskTimeout, log)
	answers := service.NewAnswerStore(attempts, api, tasks, c, timings.AnswerDebounce, log)
	monitor := service.NewSecurityMonitor(device, c, timings, log)
	queue := service.NewOfflineQueue(repository.NewQueueRepository(kv), api, c, timings.QueueSubmitInterval, log)
	pipeline := service.NewSubmissionPipeline(api, queue, timings.SubmitAttempts, timings.SubmitBackoff, log)
	authService := service.NewAuthService(cfg)

	engine := service.NewExamSessionService(
		attempts, api, service.NewSeedService(attempts, c, log),
		answers, monitor, pipeline, tasks, c,
		service.EngineOptions{Timings: timings, RequireLockDown: cfg.RequireLockDown, DeviceID: cfg.DeviceID},
		log,
	)

	// Entries left mid-flight by a crash go back to pending before anything drains them.
	if n, err := queue.Recover(ctx); err != nil {
		log.Warn().Err(err).Msg("Submission queue recovery failed")
	} else if n > 0 {
		log.Info().Int("entries", n).Msg("Recovered interrupted submissions")
	}

	connectivity := worker.NewConnectivityWorker(api, queue, cfg.ConnectivityInterval, cfg.GradingAPITimeout, log)
	limiter := middleware.NewRateLimiter(cfg.RateLimitBurst, cfg.RateLimitWindow)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Exam:   handler.NewExamHandler(engine, authService, log),
		Queue:  handler.NewQueueHandler(queue, authService, log),
		WS:     handler.NewWSHandler(engine, log, cfg.AllowedOrigins),
		System: handler.NewSystemHandler(api, connectivity, cfg.DeviceID, log),
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.SetupRouter(authService, handlers, limiter, cfg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Run Server & Workers ─────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		connectivity.Start(gctx)
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.RateLimitWindow)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := limiter.Cleanup(cfg.RateLimitWindow * 5); n > 0 {
					log.Debug().Int("visitors", n).Msg("Rate limiter pruned")
				}
			}
		}
	})

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 1. Stop accepting new HTTP requests.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		// 2. Flush the active attempt and wait for in-flight remote work.
		engine.Shutdown(shutdownCtx)
		tasks.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Proctor stopped with error")
		return err
	}

	log.Info().Msg("Proctor stopped")
	return nil
}

func newDevice(cfg *config.Config, log zerolog.Logger) (lockdown.Device, error) {
	switch cfg.LockDownDriver {
	case "static":
		return lockdown.NewStaticDevice(), nil
	case "command":
		d, err := lockdown.NewCommandDevice(
			cfg.LockDownRequestCmd, cfg.LockDownStatusCmd, cfg.LockDownReleaseCmd,
			2*time.Second, log,
		)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("unknown lockdown driver %q", cfg.LockDownDriver)
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mailvault/config"
	"mailvault/internal/bootstrap"
	"mailvault/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	mode := flag.String("mode", "all", "run mode: api, worker, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger.Init(logger.Config{
		Level:   cfg.LogLevel,
		Service: "mailvault",
		Console: cfg.IsDevelopment(),
	})
	log := logger.L()

	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("dependency wiring failed")
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "api":
		runAPI(ctx, cfg, deps)
	case "worker":
		runWorker(ctx, cfg, deps)
	case "all":
		w := bootstrap.NewWorker(deps, cfg.MaintenanceInterval)
		go w.Start()
		defer w.Stop()
		runAPI(ctx, cfg, deps)
	default:
		log.Fatal().Str("mode", *mode).Msg("unknown run mode")
	}
}

func runAPI(ctx context.Context, cfg *config.Config, deps *bootstrap.Dependencies) {
	log := logger.Component("api")
	app := bootstrap.NewAPI(cfg, deps)

	go func() {
		<-ctx.Done()
		log.Info().Dur("timeout", shutdownTimeout).Msg("shutting down api server")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
			os.Exit(1)
		}
	}()

	addr := ":" + cfg.Port
	log.Info().Str("addr", addr).Msg("starting api server")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func runWorker(ctx context.Context, cfg *config.Config, deps *bootstrap.Dependencies) {
	log := logger.Component("worker")
	w := bootstrap.NewWorker(deps, cfg.MaintenanceInterval)

	go func() {
		<-ctx.Done()
		log.Info().Dur("timeout", shutdownTimeout).Msg("shutting down worker")

		done := make(chan struct{})
		go func() {
			w.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			log.Warn().Msg("worker shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	log.Info().Msg("starting worker")
	w.Start()
}

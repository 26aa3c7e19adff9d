package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"quotewatch/internal/app"
	"quotewatch/internal/config"
	"quotewatch/internal/logging"
	"quotewatch/internal/scheduler"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logs, err := logging.Init(logging.Config{
		Level:          cfg.Log.Level,
		Format:         cfg.Log.Format,
		FileEnabled:    cfg.Log.FileEnabled,
		FilePath:       cfg.Log.FilePath,
		RotationSize:   cfg.Log.RotationSizeMB,
		RetentionDays:  cfg.Log.RetentionDays,
		ServiceName:    "quotewatch-server",
		ServiceVersion: version,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("logger")
	}
	defer logs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("wire quote engine")
	}
	defer a.Close()

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(a.Repo, a.Service, cfg.Scheduler.Owners)
		if err := sched.Start(cfg.Scheduler.Spec); err != nil {
			log.Fatal().Err(err).Msg("scheduler")
		}
		defer sched.Stop()
	}

	access := log.Logger
	if cfg.Log.FileEnabled {
		access = logging.NewAccessLogger(cfg.Log.FilePath, cfg.Log.RotationSizeMB, cfg.Log.RetentionDays)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newRouter(a, access),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout() + cfg.Quotes.AggregateDeadline() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Int("providers", len(a.Adapters)).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown")
	}
	log.Info().Msg("server stopped")
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"darkroom/internal/http/handlers"
	"darkroom/internal/http/httpapi"
	"darkroom/internal/infra"
	"darkroom/internal/ledger"
	"darkroom/internal/metrics"
	"darkroom/internal/providers/genai"
	"darkroom/internal/scheduler"
	"darkroom/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()

	led, err := ledger.Open(cfg.LedgerPath(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("darkroomd: open ledger failed")
	}
	defer led.Close()

	store, err := storage.NewResultStore(cfg.ResultsPath())
	if err != nil {
		logger.Fatal().Err(err).Msg("darkroomd: configure result store failed")
	}

	client, err := genai.NewClient(genai.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		VideoModel: cfg.GeminiVideoModel,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("darkroomd: configure gemini client failed")
	}

	sched := scheduler.New(led, store, client, logger, scheduler.Options{
		PollInterval:    cfg.VideoPollEvery,
		MaxPollDuration: cfg.VideoPollDeadline,
		ImageBatch:      cfg.ImageBatch,
	})

	app := &handlers.App{
		Ledger:    led,
		Store:     store,
		Client:    client,
		Scheduler: sched,
		Logger:    logger,
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, cfg, logger))

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("darkroomd: scheduler stopped with error")
		}
	}()

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("darkroomd: listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("darkroomd: http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("darkroomd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("darkroomd: http shutdown failed")
	}
	<-schedDone
	logger.Info().Msg("darkroomd: stopped")
}

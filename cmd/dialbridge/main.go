package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"dialbridge/internal/callstore"
	"dialbridge/internal/config"
	"dialbridge/internal/dispatch"
	"dialbridge/internal/httpapi"
	"dialbridge/internal/logging"
	"dialbridge/internal/observability"
	"dialbridge/internal/queue"
	"dialbridge/internal/relay"
	"dialbridge/internal/retry"
	"dialbridge/internal/session"
	"dialbridge/internal/telephony"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.New(slog.LevelInfo)
	slog.SetDefault(logger)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := callstore.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("call store init failed: %v", err)
	}
	defer store.Close()

	q, err := queue.NewQueue(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("call queue init failed: %v", err)
	}
	defer q.Close()

	scheduler := retry.NewScheduler(store, q, retry.NewPolicy(cfg.MaxRetries), metrics, logger)
	initializer := session.NewInitializer(store)

	var provider relay.RealtimeProvider
	if cfg.OpenAIAPIKey != "" {
		provider = relay.NewOpenAIProvider(relay.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIRealtimeURL,
			Model:   cfg.OpenAIRealtimeModel,
		})
		logger.Info("realtime provider: openai", "model", cfg.OpenAIRealtimeModel)
	} else {
		provider = relay.NewMockProvider()
		logger.Warn("realtime provider: mock (OPENAI_API_KEY not set)")
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	var dispatcher *dispatch.Dispatcher
	if cfg.DispatchEnabled() {
		dialer := telephony.NewTwilioClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
		dispatcher = dispatch.NewDispatcher(store, dialer, cfg.PublicBaseURL, metrics, logger)
		worker := dispatch.NewWorker(q, store, dispatcher, scheduler, cfg.DispatchPollInterval, metrics, logger)
		go worker.Run(runCtx)
	} else {
		logger.Warn("outbound dialing disabled (provider credentials or PUBLIC_BASE_URL missing)")
	}

	api := httpapi.New(cfg, store, dispatcher, scheduler, provider, initializer, metrics, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}

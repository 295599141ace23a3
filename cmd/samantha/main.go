package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ent0n29/samantha-chat/internal/companion"
	"github.com/ent0n29/samantha-chat/internal/config"
	"github.com/ent0n29/samantha-chat/internal/httpapi"
	"github.com/ent0n29/samantha-chat/internal/llm"
	"github.com/ent0n29/samantha-chat/internal/memory"
	"github.com/ent0n29/samantha-chat/internal/observability"
)

func main() {
	if err := run(); err != nil {
		observability.Logger().Error("samantha exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "samantha: .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := observability.ConfigureLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := memory.NewStore(ctx, memory.Config{
		Driver:      cfg.StoreDriver,
		SQLitePath:  cfg.StoreSQLitePath,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return fmt.Errorf("conversation store init: %w", err)
	}
	defer store.Close()
	storeAttrs := []any{"driver", memory.Kind(store)}
	if s, ok := store.(*memory.SQLiteStore); ok {
		storeAttrs = append(storeAttrs, "path", s.Path())
	}
	log.Info("conversation store ready", storeAttrs...)

	provider, err := llm.NewProvider(ctx, llm.Config{
		Mode:             cfg.LLMProvider,
		Model:            cfg.LLMModel,
		GeminiAPIKey:     cfg.GeminiAPIKey,
		GCPProject:       cfg.GCPProject,
		GCPLocation:      cfg.GCPLocation,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		OpenAIModel:      cfg.OpenAIModel,
		YandexOAuthToken: cfg.YandexOAuthToken,
		YandexFolderID:   cfg.YandexFolderID,
		HTTPURL:          cfg.LLMHTTPURL,
	})
	if err != nil {
		return fmt.Errorf("llm provider init: %w", err)
	}
	if cfg.LLMProvider == "gemini" && cfg.GeminiAPIKey == config.PlaceholderGeminiAPIKey {
		log.Warn("GEMINI_API_KEY is not set; chat turns will use fallback replies")
	}
	model := llm.ModelName(provider)
	if model == "" {
		model = "provider default"
	}
	log.Info("llm provider ready", "provider", provider.Name(), "model", model)

	svc := companion.NewService(provider, store, metrics)
	api := httpapi.New(cfg, svc, metrics)
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", "signal", sig.String())
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	log.Info("shutdown complete")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"webhook-chatter/internal/api"
	"webhook-chatter/internal/config"
	"webhook-chatter/internal/dispatch"
	"webhook-chatter/internal/feed"
	"webhook-chatter/internal/llm"
	"webhook-chatter/internal/pricing"
	"webhook-chatter/internal/scheduler"
	"webhook-chatter/internal/session"
	"webhook-chatter/internal/storage"
	"webhook-chatter/internal/telegram"
)

func serveCmd() *cobra.Command {
	var setWebhook bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg, logger, setWebhook)
		},
	}
	cmd.Flags().BoolVar(&setWebhook, "set-webhook", false, "register WEBHOOK_URL with Telegram on startup")
	return cmd
}

func runServer(cfg *config.Config, logger zerolog.Logger, setWebhook bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	checks := map[string]api.Pinger{}
	if cfg.DatabaseURL != "" {
		checks["postgres"] = store
	}

	var cache feed.Cache
	if cfg.RedisURL != "" {
		rc, err := feed.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, feed cache disabled")
		} else {
			defer rc.Close()
			cache = rc
			checks["redis"] = rc
		}
	}

	clients, err := llm.NewFactory(cfg).CreateClients(string(cfg.LLMProvider), cfg.OpenAIModel, cfg.VisionModel)
	if err != nil {
		return fmt.Errorf("create llm clients: %w", err)
	}

	tg, err := telegram.NewClient(cfg.TelegramBotToken, telegram.ClientOptions{
		Retries:       cfg.SendRetries,
		RetryDelay:    cfg.SendRetryDelay,
		RatePerSecond: cfg.SendRatePerSecond,
	}, logger)
	if err != nil {
		return err
	}
	if setWebhook {
		if cfg.WebhookURL == "" {
			return errors.New("--set-webhook requires WEBHOOK_URL")
		}
		if err := tg.SetWebhook(ctx, cfg.WebhookURL); err != nil {
			return err
		}
		logger.Info().Str("url", cfg.WebhookURL).Msg("webhook registered")
	}

	dispatcher := dispatch.New(dispatch.Options{
		Text:        clients.Text,
		Vision:      clients.Vision,
		Feeds:       cfg.Feeds,
		FeedItems:   cfg.FeedItems,
		Fetcher:     feed.NewFetcher(&http.Client{Timeout: 20 * time.Second}, cache, cfg.FeedCacheTTL, logger),
		Files:       tg,
		TextPersona: readSystemPrompt(cfg.SystemPromptPath, logger),
	}, logger)

	locks := session.NewManager(store, tg, telegram.BusyText, logger)
	bot := telegram.NewBot(tg, locks, store, dispatcher, telegram.Options{
		ContextWindow: cfg.ContextWindow,
		ParseMode:     cfg.MessageParseMode,
		Self:          tg.Self(),
	}, logger)

	sched := scheduler.New(store, cfg.LockStaleAfter, logger)
	if err := sched.Start(cfg.LockSweepSchedule); err != nil {
		return err
	}
	defer sched.Stop()

	prices := pricing.NewClient(nil, cfg.TokenPriceAPIURL, cfg.TokenPriceAPIKey, cfg.TokenPriceAPIKeyHeader, logger)
	handler := api.NewHandler(bot, clients.Text, prices, checks, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("provider", string(cfg.LLMProvider)).
			Str("model", cfg.OpenAIModel).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// openStore connects to Postgres and applies migrations, or falls back to the
// in-process store when no DATABASE_URL is set.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store; locks and history are lost on restart")
		return storage.NewMemoryStore(), nil
	}
	if err := storage.MigrateUp(cfg.DatabaseURL); err != nil {
		return nil, err
	}
	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to postgres")
	return store, nil
}

func readSystemPrompt(path string, logger zerolog.Logger) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Info().Str("path", path).Msg("system prompt file not found, using built-in persona")
		return ""
	}
	return strings.TrimSpace(string(data))
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/semaphore"

	"glamour-studio/internal/config"
	"glamour-studio/internal/credential"
	"glamour-studio/internal/gemini"
	"glamour-studio/internal/handlers"
	"glamour-studio/internal/httpclient"
	"glamour-studio/internal/mediagroup"
	"glamour-studio/internal/session"
	"glamour-studio/internal/studio"
	"glamour-studio/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.RequireTelegram(); err != nil {
		panic(err)
	}

	logger := config.NewLogger(cfg)

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
		UserAgent:  "glamour-studio-bot",
	})

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: httpClient,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		logger.Error("telegram init failed", "err", err)
		os.Exit(1)
	}

	gem := gemini.New(gemini.Options{
		APIKey:       cfg.GeminiAPIKey,
		BaseURL:      cfg.GeminiBaseURL,
		APIVersion:   cfg.GeminiAPIVersion,
		ImageModel:   cfg.GeminiImageModel,
		VideoModel:   cfg.GeminiVideoModel,
		PollInterval: cfg.VideoPollInterval,
		HTTPClient:   httpClient,
		Logger:       logger,
	})
	service := studio.NewGeminiService(gem)

	sessions := session.NewStore(session.Options{
		TTL: cfg.SessionTTL,
		New: func(id string) *studio.Session {
			return studio.NewSession(studio.Options{
				ID:       id,
				Service:  service,
				Keys:     credential.NewSession(""),
				Logger:   logger,
				Backdrop: cfg.DefaultBackdrop,
			})
		},
	})

	handler := handlers.New(handlers.Options{
		Telegram:       tg,
		Sessions:       sessions,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
		VideoTimeout:   cfg.VideoTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	onGroupFlush := func(group mediagroup.Group) {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}

		go func() {
			defer sem.Release(1)
			handler.HandleMediaGroup(ctx, group)
		}()
	}

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupWait,
		OnFlush:  onGroupFlush,
	})
	defer aggregator.Stop()
	handler.SetMediaGroupAggregator(aggregator)

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := sessions.Sweep(now); n > 0 {
					logger.Info("expired sessions removed", "count", n, "remaining", sessions.Len())
				}
			}
		}
	}()

	logger.Info("bot started", "username", tg.Username())

	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})
	defer tg.StopUpdates()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case update, ok := <-updates:
			if !ok {
				logger.Info("updates channel closed")
				return
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}

			go func(update telegram.Update) {
				defer sem.Release(1)

				if err := handler.HandleUpdate(ctx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "err", err)
				}
			}(update)
		}
	}
}

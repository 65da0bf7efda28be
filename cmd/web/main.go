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
	"golang.org/x/sync/errgroup"

	"glamour-studio/internal/config"
	"glamour-studio/internal/credential"
	"glamour-studio/internal/gemini"
	"glamour-studio/internal/httpclient"
	"glamour-studio/internal/session"
	"glamour-studio/internal/studio"
	"glamour-studio/internal/web"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := config.NewLogger(cfg)

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.VideoTimeout,
		UserAgent:  "glamour-studio-web",
	})

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
				Keys:     credential.NewSession(cfg.GeminiAPIKey),
				Logger:   logger,
				Backdrop: cfg.DefaultBackdrop,
			})
		},
	})

	s := web.New(web.Options{
		Sessions:       sessions,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
		VideoTimeout:   cfg.VideoTimeout,
	})

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.VideoTimeout + 30*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("web started", "addr", cfg.WebAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	eg.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-egCtx.Done():
				return nil
			case now := <-ticker.C:
				if n := sessions.Sweep(now); n > 0 {
					logger.Info("expired sessions removed", "count", n, "remaining", sessions.Len())
				}
			}
		}
	})

	if err := eg.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

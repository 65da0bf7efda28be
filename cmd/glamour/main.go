package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"glamour-studio/internal/cli"
	"glamour-studio/internal/config"
	"glamour-studio/internal/credential"
	"glamour-studio/internal/gemini"
	"glamour-studio/internal/httpclient"
	"glamour-studio/internal/studio"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(newRunner)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "glamour:", err)
		os.Exit(1)
	}
}

func newRunner(*cobra.Command) (*cli.Runner, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := config.NewLoggerTo(cfg, os.Stderr)

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.VideoTimeout,
		UserAgent:  "glamour-studio-cli",
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

	return &cli.Runner{
		Service:        studio.NewGeminiService(gem),
		Keys:           credential.NewStatic(cfg.GeminiAPIKey),
		Logger:         logger,
		Backdrop:       cfg.DefaultBackdrop,
		RequestTimeout: cfg.RequestTimeout,
		VideoTimeout:   cfg.VideoTimeout,
	}, nil
}

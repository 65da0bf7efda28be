package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"glamour-studio/internal/credential"
	"glamour-studio/internal/media"
	"glamour-studio/internal/studio"
)

type ShotOptions struct {
	ImagePath string
	Backdrop  string
	Note      string
	Remixes   []string
	Video     string
	OutDir    string
}

type ShotResult struct {
	ImagePath string
	VideoPath string
	Turns     int
}

// Runner drives one studio session from the command line.
type Runner struct {
	Service        studio.Service
	Keys           credential.Selector
	Logger         *slog.Logger
	Out            io.Writer
	Backdrop       string
	RequestTimeout time.Duration
	VideoTimeout   time.Duration
}

func (r *Runner) Shot(ctx context.Context, opts ShotOptions) (ShotResult, error) {
	data, err := os.ReadFile(opts.ImagePath)
	if err != nil {
		return ShotResult{}, fmt.Errorf("read image: %w", err)
	}
	outDir := opts.OutDir
	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return ShotResult{}, fmt.Errorf("create output dir: %w", err)
	}

	sess := studio.NewSession(studio.Options{
		ID:       "cli",
		Service:  r.Service,
		Keys:     r.Keys,
		Logger:   r.Logger,
		Backdrop: r.Backdrop,
	})
	defer sess.Close()

	r.printf("Generating glamour shot from %s...\n", opts.ImagePath)
	err = r.withTimeout(ctx, r.RequestTimeout, func(ctx context.Context) error {
		return sess.SubmitImage(ctx, studio.ImageInput{Data: data, Backdrop: opts.Backdrop, Note: opts.Note})
	})
	if err != nil {
		return ShotResult{}, err
	}
	if snap := sess.Snapshot(); snap.State == studio.StateError {
		return ShotResult{}, errors.New(snap.Error)
	}

	for _, instruction := range opts.Remixes {
		r.printf("Remixing: %s\n", instruction)
		err := r.withTimeout(ctx, r.RequestTimeout, func(ctx context.Context) error {
			return sess.Remix(ctx, instruction)
		})
		if err != nil {
			return ShotResult{}, fmt.Errorf("remix %q: %w", instruction, err)
		}
		if snap := sess.Snapshot(); snap.EditError != "" {
			return ShotResult{}, errors.New(snap.EditError)
		}
	}

	var res ShotResult
	if res.ImagePath, err = writeAsset(sess, outDir); err != nil {
		return ShotResult{}, err
	}
	r.printf("Saved %s\n", res.ImagePath)

	if opts.Video != "" {
		view, err := sess.OpenVideoDialog(ctx)
		if err != nil {
			return res, err
		}
		if !view.HasKey {
			return res, studio.ErrKeyRequired
		}

		r.printf("Animating: %s\n", opts.Video)
		err = r.withTimeout(ctx, r.VideoTimeout, func(ctx context.Context) error {
			return sess.GenerateVideo(ctx, opts.Video)
		})
		if err != nil {
			return res, err
		}
		if snap := sess.Snapshot(); snap.VideoError != "" {
			return res, errors.New(snap.VideoError)
		}
		if res.VideoPath, err = writeAsset(sess, outDir); err != nil {
			return res, err
		}
		r.printf("Saved %s\n", res.VideoPath)
	}

	res.Turns = len(sess.History())
	return res, nil
}

func (r *Runner) withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

func (r *Runner) printf(format string, args ...any) {
	if r.Out == nil {
		return
	}
	fmt.Fprintf(r.Out, format, args...)
}

func writeAsset(sess *studio.Session, dir string) (string, error) {
	asset, err := sess.Download()
	if err != nil {
		return "", err
	}
	return saveAsset(asset, dir)
}

func saveAsset(asset media.Asset, dir string) (string, error) {
	path := filepath.Join(dir, asset.Name)
	if err := os.WriteFile(path, asset.Data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", asset.Name, err)
	}
	return path, nil
}

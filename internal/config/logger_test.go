package config

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLoggerToLevels(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want slog.Level
	}{
		{name: "default", cfg: Config{}, want: slog.LevelInfo},
		{name: "warn", cfg: Config{LogLevel: "warn"}, want: slog.LevelWarn},
		{name: "error", cfg: Config{LogLevel: "error"}, want: slog.LevelError},
		{name: "debug flag wins", cfg: Config{LogLevel: "error", Debug: true}, want: slog.LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLoggerTo(tt.cfg, &bytes.Buffer{})
			if !logger.Enabled(context.Background(), tt.want) {
				t.Fatalf("level %s should be enabled", tt.want)
			}
			if tt.want > slog.LevelDebug && logger.Enabled(context.Background(), tt.want-4) {
				t.Fatalf("level below %s should be disabled", tt.want)
			}
		})
	}
}

func TestNewLoggerToWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(Config{}, &buf).Info("hello", "session", "abc")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not json: %v (%q)", err, buf.String())
	}
	if line["msg"] != "hello" || line["session"] != "abc" {
		t.Fatalf("unexpected record %v", line)
	}
}

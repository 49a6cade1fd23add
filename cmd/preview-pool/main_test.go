package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/tapforge/preview-pool/pkg/platform"
)

func TestLoadConfig(t *testing.T) {
	t.Run("dev defaults without path", func(t *testing.T) {
		cfg, err := loadConfig("")
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if !cfg.Auth.AllowAnonymous {
			t.Error("dev defaults should allow anonymous callers")
		}
		if len(cfg.Pools) == 0 {
			t.Error("dev defaults should define a pool")
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("dev defaults failed validation: %v", err)
		}
	})

	t.Run("reads config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		content := `
apiVersion: v1
server:
  address: ":9090"
auth:
  allow_anonymous: true
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("writing config: %v", err)
		}

		cfg, err := loadConfig(path)
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Server.Address != ":9090" {
			t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, ":9090")
		}
	})

	t.Run("missing config file", func(t *testing.T) {
		if _, err := loadConfig("/nonexistent/path/config.yaml"); err == nil {
			t.Error("expected error for missing config file")
		}
	})
}

func TestNewLogger(t *testing.T) {
	cases := []struct {
		name    string
		cfg     platform.LoggingConfig
		level   slog.Level
		enabled bool
	}{
		{"debug level", platform.LoggingConfig{Level: "debug"}, slog.LevelDebug, true},
		{"info by default", platform.LoggingConfig{}, slog.LevelDebug, false},
		{"warn level", platform.LoggingConfig{Level: "warn"}, slog.LevelInfo, false},
		{"error level", platform.LoggingConfig{Level: "error"}, slog.LevelWarn, false},
		{"json format", platform.LoggingConfig{Level: "info", Format: "json"}, slog.LevelInfo, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logger := newLogger(tc.cfg)
			if logger == nil {
				t.Fatal("newLogger() returned nil")
			}
			if got := logger.Enabled(context.Background(), tc.level); got != tc.enabled {
				t.Errorf("Enabled(%v) = %v, want %v", tc.level, got, tc.enabled)
			}
		})
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler() returned nil context")
	}
	select {
	case <-ctx.Done():
		t.Error("context should not be canceled without a signal")
	default:
	}
}

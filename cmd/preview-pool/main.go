// Package main provides the entry point for the preview-pool server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	poolserver "github.com/tapforge/preview-pool/internal/server"
	"github.com/tapforge/preview-pool/pkg/platform"
)

// devConfig is the zero-flag fallback: in-memory stores, a stub session
// provider, and anonymous callers. Good for local poking, nothing else.
const devConfig = `apiVersion: v1
auth:
  allow_anonymous: true
pools:
  - platform: ios
    device_type: iphone15
    target_size: 2
    min_size: 1
    max_size: 4
`

// @title Preview Pool Admin API
// @version 1.0
// @description Administrative API for the elastic preview session pool: pool definitions, session instances, allocations, quotas, and cost records.
// @BasePath /api/v1/admin
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the access token.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func loadConfig(path string) (*platform.Config, error) {
	if path != "" {
		return platform.LoadConfig(path)
	}
	return platform.ParseConfig([]byte(devConfig))
}

func newLogger(cfg platform.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("preview-pool version %s (commit %s, built %s)\n",
			poolserver.Version, poolserver.Commit, poolserver.Date)
		return nil
	}

	_ = godotenv.Load() // allow .env for local runs

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if opts.configPath == "" {
		logger.Warn("main: no config file given, using in-memory dev defaults")
	}

	p, err := platform.New(platform.WithConfig(cfg), platform.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("assembling platform: %w", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Error("main: close", "error", err)
		}
	}()

	ctx := setupSignalHandler()

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting platform: %w", err)
	}

	srv := poolserver.New(p)
	runErr := srv.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		logger.Error("main: stop", "error", err)
	}
	return runErr
}

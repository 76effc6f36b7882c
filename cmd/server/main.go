// Package main implements the entry point for the redaction API server,
// which accepts document redaction requests and runs the redaction
// pipeline workers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/redaction-api/internal/config"
	"github.com/phrazzld/redaction-api/internal/platform/logger"
)

// Run modes.
const (
	modeAll    = "all"
	modeAPI    = "api"
	modeWorker = "worker"
)

type options struct {
	mode       string
	migrate    string
	configPath string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&opts.mode, "mode", modeAll, "what to run: all, api or worker")
	fs.StringVar(&opts.migrate, "migrate", "", "run a migration command (up, down, status, reset) and exit")
	fs.StringVar(&opts.configPath, "config", "", "path to a config file")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	switch opts.mode {
	case modeAll, modeAPI, modeWorker:
	default:
		return opts, fmt.Errorf("unknown mode %q", opts.mode)
	}
	if opts.migrate != "" && !validMigrationCommand(opts.migrate) {
		return opts, fmt.Errorf("unknown migration command %q", opts.migrate)
	}
	return opts, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	log.Info("server configuration loaded",
		"mode", opts.mode,
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"queue_backend", cfg.Queue.Backend,
		"pipeline_mode", cfg.Pipeline.Mode,
		"auth_method", cfg.Auth.Method)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := setupDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}

	if opts.migrate != "" {
		defer closeDatabase(db, log)
		return runMigrations(ctx, db, opts.migrate, log)
	}

	app, err := newApplication(ctx, cfg, opts.mode, log, db)
	if err != nil {
		closeDatabase(db, log)
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

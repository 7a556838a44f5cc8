package app

import (
	"context"
	"errors"
	"io/fs"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

// RunOptions carries command-line overrides. Empty fields keep the env value.
type RunOptions struct {
	EnvFile   string
	Addr      string
	LogLevel  string
	LogFormat string
}

// Run is the CLI entrypoint used by cmd/coachhub.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(opts RunOptions) error {
	cfg, err := ResolveConfig(opts)
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		return err
	}

	return a.Run(ctx)
}

// ResolveConfig loads the optional env file, reads the environment and applies flag overrides.
// Variables already present in the process environment win over the file.
func ResolveConfig(opts RunOptions) (Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	cfg := LoadConfig()
	if opts.Addr != "" {
		cfg.HTTPAddr = opts.Addr
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}
	return cfg, nil
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/osintops/threatpipe/internal/app"
	"github.com/osintops/threatpipe/internal/platform/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr).With().Timestamp().Logger()
		fallback.Fatal().Err(err).Msg("load configuration")
	}

	logger := newLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialize")
	}

	if err := a.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run")
	}

	logger.Info().Msg("shutdown complete")
}

func newLogger(appEnv string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

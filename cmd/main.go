package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/trunov/heroproxy/internal/app"
	"github.com/trunov/heroproxy/internal/config"
)

const file = "config.json"

var version = "dev"

func initSentry(cfg *config.SentryConfig, version string) error {
	return sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     version,
	})
}

func main() {
	cfg := config.NewConfig()

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	path := fs.String("config", file, "path to the JSON config file")
	cfg.BindFlags(fs)
	// first pass only finds the config file; flags are applied again below
	_ = fs.Parse(os.Args[1:])

	if err := cfg.Read(*path); err != nil {
		log.Fatal(err)
	}
	if err := cfg.ReadEnv(); err != nil {
		log.Fatal(err)
	}
	_ = fs.Parse(os.Args[1:])

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}

	err = initSentry(&cfg.Sentry, version)
	if err != nil {
		logger.Fatalf("sentry.Init: %s", err)
	}

	// Flush buffered events before the program terminates.
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err)
	}

	if err := a.Run(ctx); err != nil {
		logger.Error(err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}

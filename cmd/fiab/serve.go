package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/api"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/auth"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/catalogue"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/config"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/events"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fablestore"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/jobs"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/lock"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/log"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/storage"
)

func printServeHelp() {
	fmt.Print(`Usage: fiab serve --config <path>

Run the fable builder HTTP API until interrupted.

Flags:
  --config   Path to the YAML configuration file (required)
`)
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "--config is required")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("fiab starting", "version", version, "config", *configPath)

	cat, err := catalogue.Load(cfg.Catalogue.Path)
	if err != nil {
		logger.Error("failed to load catalogue", "path", cfg.Catalogue.Path, "error", err)
		return 1
	}
	if fp, err := catalogue.Fingerprint(cat); err == nil {
		logger.Info("catalogue loaded", "path", cfg.Catalogue.Path, "plugins", len(cat), "fingerprint", fp)
	}

	stateLock, err := lock.AcquireForState(cfg.State.Path)
	if err != nil {
		logger.Error("failed to lock state (another instance may be running)", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer stateLock.Release()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}

	server := api.New(api.Config{
		Listen:            cfg.API.Listen,
		APIKey:            cfg.API.Auth.APIKey,
		Tokens:            tokens,
		URLStateMaxLength: cfg.Builder.URLStateMaxLength,
	}, cat, fablestore.NewStore(db), jobs.New(db), events.NewHub(256), log.WithComponent("api"))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", "error", err)
		return 1
	}
	logger.Info("fiab stopped")
	return 0
}

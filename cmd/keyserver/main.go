// Package main provides the entry point for the license key server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sipico/license-key-server/internal/config"
	"github.com/sipico/license-key-server/internal/server"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "keyserver: %v\n", err)
		os.Exit(1)
	}
}

// run loads configuration and serves until SIGINT or SIGTERM.
// This is separated from main() to enable testing
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	components, err := server.Initialize(ctx, cfg, version, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := components.Store.Close(); err != nil {
			components.Logger.Error("failed to close store", "error", err)
		}
	}()

	if err := components.Run(ctx, cfg); err != nil {
		return err
	}
	components.Logger.Info("key server stopped")
	return nil
}

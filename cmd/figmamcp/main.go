// Package main is the entry point for the design file protocol server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"figmamcp/config"
	"figmamcp/internal/app"
	"figmamcp/internal/logging"
	"figmamcp/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	stdioFlag := flag.Bool("stdio", false, "Serve the protocol over stdin/stdout instead of HTTP")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// stdout carries protocol traffic in stdio mode, so logs always go to stderr.
	logger := logging.New(logging.Options{
		Format: cfg.Log.Format,
		Level:  cfg.Log.Level,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	logger.Info("starting figmamcp",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
		"transport", transportName(*stdioFlag),
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, app.Config{AppConfig: cfg, Logger: logger})
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	if *stdioFlag {
		runErr := application.ServeStdio(ctx, os.Stdin, os.Stdout)
		shutdown(application, logger)
		if runErr != nil && ctx.Err() == nil {
			logger.Error("stdio session failed", "error", runErr)
			os.Exit(1)
		}
		return
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		shutdown(application, logger)
		close(shutdownDone)
	}()

	if err := application.Start(":" + cfg.Server.Port); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	// Start returns as soon as the listener closes; wait for the audit flush.
	<-shutdownDone
}

func shutdown(application *app.App, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func transportName(stdio bool) string {
	if stdio {
		return "stdio"
	}
	return "http"
}

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cointoss/internal/app"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 2. Profiling (pprof, optional Pyroscope)
	stopProfiling, err := app.StartProfiling(bootstrap.Config, bootstrap.Logger)
	if err != nil {
		slog.Error("Profiling failed to start", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	slog.InfoContext(ctx, "cointoss running. Press Ctrl+C to exit.")
	runErr := bootstrap.Run(ctx)

	stop()
	stopProfiling()
	if err := bootstrap.Close(); err != nil {
		slog.Error("Failed to close storage", slog.Any("error", err))
	}
	if runErr != nil {
		slog.Error("Shut down with error", slog.Any("error", runErr))
		os.Exit(1)
	}
	slog.Info("Shut down gracefully")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wrenops/netguard-mcp/internal/app"
	"github.com/wrenops/netguard-mcp/internal/config"
)

func main() {
	mode := flag.String("mode", "", "run mode: server or worker (overrides NETGUARD_MODE)")
	transport := flag.String("transport", "", "tool-call transport: stdio or http (overrides NETGUARD_TRANSPORT)")
	environment := flag.String("environment", "", "deployment environment: lab, staging or prod (overrides NETGUARD_ENVIRONMENT)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	// CLI flags override env vars.
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *transport != "" {
		cfg.Transport = *transport
	}
	if *environment != "" {
		cfg.Environment = *environment
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

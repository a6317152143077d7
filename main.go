// Package main is the entry point for the crstats CLI, which aggregates
// Clash Royale battle exports into per-card usage and win-rate statistics.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/raisserv2/clash-royale-battle-analysis/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.Execute(ctx)
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alpenglow/alpenglow/cmd/alpen/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(commands.Execute(ctx, Version, Commit, BuildDate))
}

// File: cmd/darkswarm/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/darkswarm/cmd"
)

// Allows mocking os.Exit in tests.
var osExit = os.Exit

func main() {
	// Cancel on SIGINT or SIGTERM so the swarm stops at the next tick and the snapshot is saved.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		if errors.Is(err, context.Canceled) {
			osExit(130)
			return
		}
		osExit(1)
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/keyguard/internal/testevents"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := testevents.NewCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pubsubtrace/app"
	"pubsubtrace/config"
)

// The producer alone: an HTTP endpoint that publishes one traced message per request.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		panic(err)
	}

	runErr := a.Serve(ctx, a.ProducerHandler())
	if runErr != nil {
		a.Logger.Errorf(nil, "Server stopped with error: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

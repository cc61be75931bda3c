package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"pubsubtrace/app"
	"pubsubtrace/config"
)

// main runs the producer HTTP server and the consumer in one process, which is the
// easiest way to watch a trace cross the broker locally (BROKER=memory).
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

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Serve(gctx, a.ProducerHandler()) })
	g.Go(func() error { return a.Consume(gctx) })
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if runErr != nil {
		a.Logger.Errorf(nil, "Stopped with error: %v", runErr)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

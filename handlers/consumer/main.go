package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"pubsubtrace/app"
	"pubsubtrace/config"
)

// The consumer alone: it receives from the configured subscription and serves only
// the metrics endpoint over HTTP.
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

	mux := http.NewServeMux()
	mux.Handle(cfg.Service.MetricsPath, a.Metrics.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Serve(gctx, mux) })
	g.Go(func() error { return a.Consume(gctx) })
	runErr := g.Wait()
	if runErr != nil {
		a.Logger.Errorf(nil, "Consumer stopped with error: %v", runErr)
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

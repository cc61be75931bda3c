// Package app wires configuration, logging, telemetry, the propagation bridge and a
// broker into one handle shared by the producer and consumer processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pubsubtrace/bridge"
	"pubsubtrace/broker"
	"pubsubtrace/config"
	"pubsubtrace/handlers"
	"pubsubtrace/logs"
	"pubsubtrace/metrics"
	"pubsubtrace/middleware"
	"pubsubtrace/tracer"
)

type Option func(*options)

type options struct {
	logOutput io.Writer
}

// WithLogOutput redirects console logs, os.Stdout by default.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) {
		o.logOutput = w
	}
}

// App owns every process-lifetime resource. Shutdown releases them in reverse order.
type App struct {
	Config    *config.Config
	Logger    logs.OtelLogging
	Telemetry *tracer.Telemetry
	Bridge    *bridge.Bridge
	Broker    broker.Broker
	Metrics   *metrics.Metrics
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.Background())
		}
	}()

	builder := logs.NewOtelLoggerBuilder().
		WithServiceName(cfg.Service.Name).
		WithEnvironment(cfg.Service.Environment).
		WithLevel(cfg.Logging.Level).
		WithExporter(cfg.Logging.Exporter).
		WithEndpointUrl(cfg.Telemetry.Endpoint).
		WithHeaders(logs.Header(cfg.Telemetry.Headers)).
		WithAuthHeader(cfg.Telemetry.APIKey).
		WithInsecure(cfg.Telemetry.Insecure).
		WithFile(cfg.Logging.File, cfg.Logging.MaxSize, cfg.Logging.MaxBackups, cfg.Logging.MaxAge)
	if o.logOutput != nil {
		builder = builder.WithConsole(o.logOutput)
	}
	if a.Logger, err = builder.Build(ctx); err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if a.Telemetry, err = tracer.Init(ctx, cfg.Service, cfg.Telemetry); err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}

	a.Bridge = bridge.New(
		bridge.WithPropagator(a.Telemetry.Propagator()),
		bridge.WithTracerProvider(a.Telemetry.TracerProvider()),
		bridge.WithGoogClientExtraction(true),
	)

	if a.Broker, err = newBroker(ctx, cfg.Broker, a.Logger); err != nil {
		return nil, err
	}

	a.Logger.Info(nil, "Application initialized",
		zap.String("service", cfg.Service.Name),
		zap.String("broker", cfg.Broker.Kind),
		zap.String("topic", cfg.Broker.Topic),
	)
	return a, nil
}

func newBroker(ctx context.Context, cfg config.BrokerConfig, log logs.OtelLogging) (broker.Broker, error) {
	switch cfg.Kind {
	case config.BrokerMemory:
		m := broker.NewMemory(log)
		m.AddSubscription(cfg.Subscription, cfg.Topic)
		return m, nil
	case config.BrokerPubSub:
		ps, err := broker.NewPubSub(ctx, cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		return ps, nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Kind)
	}
}

// Deps is what both handlers need.
func (a *App) Deps() handlers.Deps {
	return handlers.Deps{
		Logger:        a.Logger,
		Bridge:        a.Bridge,
		Publisher:     a.Broker,
		Metrics:       a.Metrics,
		Topic:         a.Config.Broker.Topic,
		PublishDelay:  a.Config.Handler.PublishDelay,
		ConsumeDelay:  a.Config.Handler.ConsumeDelay,
		RequireParent: a.Config.Handler.RequireParent,
		Now:           time.Now,
	}
}

// ProducerHandler serves the publish endpoint on / and /helloWorld plus the metrics
// endpoint, behind CORS and the tracing middleware.
func (a *App) ProducerHandler() http.Handler {
	publish := handlers.PublishHandler(a.Deps())

	mux := http.NewServeMux()
	mux.Handle("/", publish)
	mux.Handle("/helloWorld", publish)
	mux.Handle(a.Config.Service.MetricsPath, a.Metrics.Handler())
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	handler := middleware.CORS(a.Config.Service.CORSOrigins, a.Bridge.Fields())(mux)
	return middleware.TraceMiddleware(a.Config.Service.Name, a.Logger, a.Bridge, a.Telemetry.TracerProvider())(handler)
}

// Consume runs the consumer handler on the configured subscription until ctx is done.
func (a *App) Consume(ctx context.Context) error {
	a.Logger.Info(nil, "Starting consumer", zap.String("subscription", a.Config.Broker.Subscription))
	return a.Broker.Receive(ctx, a.Config.Broker.Subscription, handlers.MessageHandler(a.Deps()))
}

// Serve runs handler on the configured address until ctx is done, then drains in-flight
// requests within the shutdown timeout.
func (a *App) Serve(ctx context.Context, handler http.Handler) error {
	srv := &http.Server{
		Addr:              a.Config.Service.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Infof(nil, "Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Service.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Shutdown closes the broker and flushes telemetry and logs. It is safe on a partially
// initialized App.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close broker: %w", err))
		}
	}
	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	if a.Logger != nil {
		if err := a.Logger.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown logger: %w", err))
		}
	}
	return errors.Join(errs...)
}

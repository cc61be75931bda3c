package middleware

import (
	"context"
	"net/http"

	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"pubsubtrace/bridge"
	"pubsubtrace/logs"
)

// TraceMiddleware opens a server span for requests that carry a trace context and logs
// every response. Requests without a context pass through untraced so the handler can
// decide how to treat them.
func TraceMiddleware(serviceName string, logger logs.OtelLogging, b *bridge.Bridge, tp trace.TracerProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		logged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Wrap ResponseWriter to capture status
			recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(recorder, r)

			logger.LogHttpResponse(trace.SpanFromContext(r.Context()), logs.BuildRequestMeta(r, recorder.statusCode))
		})

		opts := []otelhttp.Option{
			otelhttp.WithFilter(func(r *http.Request) bool {
				return b.HasContext(propagation.HeaderCarrier(r.Header))
			}),
			otelhttp.WithPropagators(bridgePropagator{b}),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		}
		if tp != nil {
			opts = append(opts, otelhttp.WithTracerProvider(tp))
		}
		return otelhttp.NewHandler(logged, serviceName, opts...)
	}
}

// CORS answers browser preflights itself and lets cross-origin callers send trace
// context headers.
func CORS(allowedOrigins []string, propagationFields []string) func(http.Handler) http.Handler {
	headers := append([]string{"Content-Type", "X-Cloud-Trace-Context"}, propagationFields...)
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodHead},
		AllowedHeaders: headers,
	})
	return c.Handler
}

// bridgePropagator lets otelhttp resolve parents the same way the bridge does,
// including its googclient fallback.
type bridgePropagator struct {
	b *bridge.Bridge
}

func (p bridgePropagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	p.b.Inject(ctx, carrier)
}

func (p bridgePropagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	ctx, _ = p.b.Extract(ctx, carrier)
	return ctx
}

func (p bridgePropagator) Fields() []string {
	return p.b.Fields()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

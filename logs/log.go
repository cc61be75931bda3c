package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type RequestMeta struct {
	Status    int
	Path      string
	Domain    string
	Agent     string
	Method    string
	RemoteIP  string
	Query     string
	RequestID string
}

// OtelLogging writes zap records correlated with the span passed to every call.
// span may be nil.
type OtelLogging interface {
	Debug(span trace.Span, msg string, fields ...zap.Field)
	Info(span trace.Span, msg string, fields ...zap.Field)
	Infof(span trace.Span, template string, args ...interface{})
	Warn(span trace.Span, msg string, fields ...zap.Field)
	Error(span trace.Span, msg string, fields ...zap.Field)
	Errorf(span trace.Span, template string, args ...interface{})
	LogHttpResponse(span trace.Span, meta RequestMeta)
	LogJson(span trace.Span, label string, value interface{})
	Shutdown(ctx context.Context) error
}

type otelLog struct {
	logger   *zap.Logger
	shutdown func(context.Context) error
}

func NewOtelLogging(zapLogger *zap.Logger) OtelLogging {
	return &otelLog{logger: zapLogger}
}

// logSpan records the log line as a span event and returns the ids used to correlate
// the zap record with the trace.
func (l *otelLog) logSpan(span trace.Span, level zapcore.Level, message string) []zap.Field {
	if span == nil {
		return nil
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return nil
	}
	traceID := sc.TraceID().String()
	spanID := sc.SpanID().String()

	span.AddEvent("log", trace.WithAttributes(
		attribute.String("log.level", level.CapitalString()),
		attribute.String("log.message", message),
	))
	return []zap.Field{
		zap.String("trace_id", traceID),
		zap.String("span_id", spanID),
	}
}

func (l *otelLog) write(span trace.Span, level zapcore.Level, msg string, fields []zap.Field) {
	ce := l.logger.Check(level, msg)
	if ce == nil {
		return
	}
	ids := l.logSpan(span, level, msg)
	all := make([]zap.Field, 0, len(ids)+len(fields)+1)
	all = append(all, ids...)
	all = append(all, fields...)
	if level >= zapcore.ErrorLevel {
		all = append(all, zap.Stack("stacktrace"))
	}
	ce.Write(all...)
}

func (l *otelLog) LogJson(span trace.Span, label string, value interface{}) {
	jsonBytes, err := json.Marshal(value)
	if err != nil {
		l.logger.Error("Failed to marshal JSON",
			zap.String("label", label),
			zap.Error(err),
		)
		return
	}
	l.write(span, zapcore.InfoLevel, label, []zap.Field{zap.Reflect(label, json.RawMessage(jsonBytes))})
}

func (l *otelLog) LogHttpResponse(span trace.Span, meta RequestMeta) {
	spanAttrs := []attribute.KeyValue{
		attribute.Int("http.status_code", meta.Status),
	}
	logFields := []zap.Field{
		zap.Int("http_status", meta.Status),
	}
	add := func(spanKey, logKey, value string) {
		if value == "" {
			return
		}
		spanAttrs = append(spanAttrs, attribute.String(spanKey, value))
		logFields = append(logFields, zap.String(logKey, value))
	}
	add("http.path", "http_path", meta.Path)
	add("http.domain", "http_domain", meta.Domain)
	add("http.user_agent", "user_agent", meta.Agent)
	add("http.method", "http_method", meta.Method)
	add("http.remote_ip", "remote_ip", meta.RemoteIP)
	add("http.query_params", "query_params", meta.Query)
	add("http.request_id", "request_id", meta.RequestID)

	if span != nil {
		span.SetAttributes(spanAttrs...)
		if sc := span.SpanContext(); sc.IsValid() {
			logFields = append(logFields,
				zap.String("trace_id", sc.TraceID().String()),
				zap.String("span_id", sc.SpanID().String()),
			)
		}
	}

	log := l.logger.With(logFields...)

	switch {
	case meta.Status >= 500:
		log.Error("Internal Server Error occurred")
	case meta.Status >= 400:
		log.Warn("Client error response recorded")
	case meta.Status >= 300:
		log.Info("Redirection response recorded")
	case meta.Status >= 200:
		log.Info("Successful response recorded")
	default:
		log.Info("Unexpected status code recorded")
	}
}

func BuildRequestMeta(r *http.Request, status int) RequestMeta {
	domain := r.URL.Hostname()
	if domain == "" {
		domain = r.Host
	}
	return RequestMeta{
		Status:    status,
		Path:      r.URL.Path,
		Domain:    domain,
		Agent:     r.UserAgent(),
		Method:    r.Method,
		RemoteIP:  r.RemoteAddr,
		Query:     r.URL.RawQuery,
		RequestID: r.Header.Get("X-Request-ID"),
	}
}

func (l *otelLog) Debug(span trace.Span, msg string, fields ...zap.Field) {
	l.write(span, zapcore.DebugLevel, msg, fields)
}

func (l *otelLog) Info(span trace.Span, msg string, fields ...zap.Field) {
	l.write(span, zapcore.InfoLevel, msg, fields)
}

func (l *otelLog) Infof(span trace.Span, template string, args ...interface{}) {
	l.write(span, zapcore.InfoLevel, fmt.Sprintf(template, args...), nil)
}

func (l *otelLog) Warn(span trace.Span, msg string, fields ...zap.Field) {
	l.write(span, zapcore.WarnLevel, msg, fields)
}

func (l *otelLog) Error(span trace.Span, msg string, fields ...zap.Field) {
	l.write(span, zapcore.ErrorLevel, msg, fields)
}

func (l *otelLog) Errorf(span trace.Span, template string, args ...interface{}) {
	l.write(span, zapcore.ErrorLevel, fmt.Sprintf(template, args...), nil)
}

// Shutdown flushes buffered zap output and the OTel log pipeline, if any.
func (l *otelLog) Shutdown(ctx context.Context) error {
	_ = l.logger.Sync()
	if l.shutdown == nil {
		return nil
	}
	return l.shutdown(ctx)
}

package logs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(level zapcore.Level) (OtelLogging, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewOtelLogging(zap.New(core)), logs
}

func TestInfoCorrelatesWithSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	_, span := tp.Tracer("test").Start(context.Background(), "op")

	l, observed := newObserved(zapcore.DebugLevel)
	l.Info(span, "hello", zap.String("k", "v"))
	span.End()

	entries := observed.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "hello", entries[0].Message)
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"])
	assert.Equal(t, "v", fields["k"])

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "log", ended[0].Events()[0].Name)
}

func TestNilSpanOmitsTraceFields(t *testing.T) {
	l, observed := newObserved(zapcore.DebugLevel)
	l.Warn(nil, "no span")
	l.Errorf(nil, "failed: %v", errors.New("boom"))

	entries := observed.All()
	require.Len(t, entries, 2)
	assert.NotContains(t, entries[0].ContextMap(), "trace_id")
	assert.Equal(t, "failed: boom", entries[1].Message)
	assert.Contains(t, entries[1].ContextMap(), "stacktrace")
}

func TestLogJson(t *testing.T) {
	l, observed := newObserved(zapcore.DebugLevel)
	l.LogJson(nil, "attributes", map[string]string{"traceparent": "00-abc"})
	l.LogJson(nil, "broken", func() {})

	entries := observed.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "attributes", entries[0].Message)
	raw, ok := entries[0].ContextMap()["attributes"].(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"traceparent":"00-abc"}`, string(raw))

	assert.Equal(t, "Failed to marshal JSON", entries[1].Message)
	assert.Equal(t, "broken", entries[1].ContextMap()["label"])
}

func TestLevelFiltering(t *testing.T) {
	l, observed := newObserved(zapcore.InfoLevel)
	l.Debug(nil, "dropped")
	l.Infof(nil, "kept %d", 1)

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "kept 1", entries[0].Message)
}

func TestLogHttpResponseLevels(t *testing.T) {
	tests := []struct {
		status int
		level  zapcore.Level
	}{
		{status: 200, level: zapcore.InfoLevel},
		{status: 302, level: zapcore.InfoLevel},
		{status: 404, level: zapcore.WarnLevel},
		{status: 500, level: zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		l, observed := newObserved(zapcore.DebugLevel)
		req := httptest.NewRequest("POST", "http://example.com/helloWorld?x=1", nil)
		l.LogHttpResponse(nil, BuildRequestMeta(req, tt.status))

		entries := observed.All()
		require.Len(t, entries, 1)
		assert.Equal(t, tt.level, entries[0].Level, "status %d", tt.status)
		fields := entries[0].ContextMap()
		assert.Equal(t, "/helloWorld", fields["http_path"])
		assert.Equal(t, "POST", fields["http_method"])
		assert.Equal(t, "x=1", fields["query_params"])
	}
}

func TestBuilderConsoleAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "app.log")

	l, err := NewOtelLoggerBuilder().
		WithServiceName("test").
		WithLevel("debug").
		WithConsole(&buf).
		WithFile(path, 1, 1, 1).
		Build(context.Background())
	require.NoError(t, err)

	l.Info(nil, "written")
	require.NoError(t, l.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "written")
}

func TestBuilderStdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewOtelLoggerBuilder().
		WithServiceName("test").
		WithConsole(&buf).
		WithConsoleExporter().
		Build(context.Background())
	require.NoError(t, err)
	require.NoError(t, l.Shutdown(context.Background()))
}

func TestBuilderRejectsUnknownExporter(t *testing.T) {
	_, err := NewOtelLoggerBuilder().WithExporter("syslog").Build(context.Background())
	assert.Error(t, err)
}

package logs

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Header map[string]string

type OtelLoggerBuilder struct {
	endpointUrl string
	headers     Header
	insecure    bool
	exporter    string
	serviceName string
	environment string
	level       zapcore.Level
	console     io.Writer
	file        *lumberjack.Logger
}

func NewOtelLoggerBuilder() *OtelLoggerBuilder {
	return &OtelLoggerBuilder{
		headers:     Header{},
		exporter:    "none",
		environment: "TEST",
		level:       zapcore.InfoLevel,
		console:     os.Stdout,
	}
}

func (b *OtelLoggerBuilder) WithEndpointUrl(endpointUrl string) *OtelLoggerBuilder {
	b.endpointUrl = endpointUrl
	return b
}

func (b *OtelLoggerBuilder) WithHeaders(headers Header) *OtelLoggerBuilder {
	for key, value := range headers {
		b.headers[key] = value
	}
	return b
}

func (b *OtelLoggerBuilder) WithAuthHeader(token string) *OtelLoggerBuilder {
	if token == "" {
		return b
	}
	return b.WithHeaders(Header{
		"Authorization": "ApiKey " + token,
	})
}

func (b *OtelLoggerBuilder) WithInsecure(insecure bool) *OtelLoggerBuilder {
	b.insecure = insecure
	return b
}

func (b *OtelLoggerBuilder) WithServiceName(serviceName string) *OtelLoggerBuilder {
	b.serviceName = serviceName
	return b
}

func (b *OtelLoggerBuilder) WithEnvironment(environment string) *OtelLoggerBuilder {
	b.environment = environment
	return b
}

// WithExporter selects where log records are shipped besides the console:
// "otlpgrpc", "otlphttp", "stdout" or "none".
func (b *OtelLoggerBuilder) WithExporter(exporter string) *OtelLoggerBuilder {
	b.exporter = exporter
	return b
}

func (b *OtelLoggerBuilder) WithConsoleExporter() *OtelLoggerBuilder {
	return b.WithExporter("stdout")
}

// WithLevel sets the minimum level. Unknown names fall back to info.
func (b *OtelLoggerBuilder) WithLevel(level string) *OtelLoggerBuilder {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	b.level = parsed
	return b
}

// WithConsole redirects the human-readable output, os.Stdout by default.
func (b *OtelLoggerBuilder) WithConsole(w io.Writer) *OtelLoggerBuilder {
	b.console = w
	return b
}

// WithFile additionally writes JSON records to a size-rotated file.
func (b *OtelLoggerBuilder) WithFile(path string, maxSizeMB, maxBackups, maxAgeDays int) *OtelLoggerBuilder {
	if path == "" {
		return b
	}
	b.file = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	return b
}

func (b *OtelLoggerBuilder) newExporter(ctx context.Context) (sdklog.Exporter, error) {
	switch b.exporter {
	case "stdout":
		exporter, err := stdoutlog.New(stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exporter, nil
	case "otlpgrpc":
		opts := []otlploggrpc.Option{otlploggrpc.WithHeaders(b.headers)}
		if b.endpointUrl != "" {
			opts = append(opts, otlploggrpc.WithEndpointURL(b.endpointUrl))
		}
		if b.insecure {
			opts = append(opts, otlploggrpc.WithInsecure())
		}
		exporter, err := otlploggrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC OTLP log exporter: %w", err)
		}
		return exporter, nil
	case "otlphttp":
		opts := []otlploghttp.Option{otlploghttp.WithHeaders(b.headers)}
		if b.endpointUrl != "" {
			opts = append(opts, otlploghttp.WithEndpointURL(b.endpointUrl))
		}
		if b.insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		exporter, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP OTLP log exporter: %w", err)
		}
		return exporter, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown log exporter %q", b.exporter)
	}
}

func (b *OtelLoggerBuilder) Build(ctx context.Context) (OtelLogging, error) {
	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.Lock(zapcore.AddSync(b.console)),
			b.level,
		),
	}
	if b.file != nil {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(b.file),
			b.level,
		))
	}

	exporter, err := b.newExporter(ctx)
	if err != nil {
		return nil, err
	}

	var shutdown func(context.Context) error
	if exporter != nil {
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(b.serviceName),
				semconv.DeploymentEnvironment(b.environment),
				semconv.TelemetrySDKLanguageGo,
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}

		provider := sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		)
		global.SetLoggerProvider(provider)
		cores = append(cores, otelzap.NewCore(b.serviceName, otelzap.WithLoggerProvider(provider)))
		shutdown = provider.Shutdown
	}

	if b.file != nil {
		file, next := b.file, shutdown
		shutdown = func(ctx context.Context) error {
			var err error
			if next != nil {
				err = next(ctx)
			}
			if cerr := file.Close(); cerr != nil && err == nil {
				err = cerr
			}
			return err
		}
	}

	return &otelLog{
		logger:   zap.New(zapcore.NewTee(cores...)),
		shutdown: shutdown,
	}, nil
}

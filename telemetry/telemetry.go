package telemetry

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"reportpilot/config"
)

const serviceName = "reportpilot"

func rotating(cfg config.LogConfig, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// InitLogger sends the standard logger to stderr and a rotating file, and
// installs a JSON slog logger on the same file as the slog default. The
// returned closer flushes the file.
func InitLogger(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	if cfg.Dir == "" {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
		return logger, io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	file := rotating(cfg, serviceName+".log")
	log.SetOutput(io.MultiWriter(os.Stderr, file))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	logger := slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelInfo}))
	// slog.SetDefault would redirect the standard logger back into slog
	return logger, file, nil
}

// InitTracing installs a tracer provider exporting spans to a rotating
// file. With no trace file configured the global no-op provider stays in
// place. The returned function flushes and stops the exporter.
func InitTracing(ctx context.Context, cfg config.LogConfig) (func(context.Context) error, error) {
	if cfg.TraceFile == "" {
		return func(context.Context) error { return nil }, nil
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	dir := cfg.Dir
	if filepath.IsAbs(cfg.TraceFile) {
		dir = ""
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create logs directory: %w", err)
		}
	}
	traceFile := &lumberjack.Logger{
		Filename:   filepath.Join(dir, cfg.TraceFile),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(traceFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	log.Printf("[TELEMETRY] Exporting traces to %s", traceFile.Filename)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		traceFile.Close()
		return err
	}, nil
}

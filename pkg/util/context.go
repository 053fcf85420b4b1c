package util

import (
	"context"
	"os"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
)

type contextKey int

const (
	loggerKey contextKey = iota
	registryKey
)

var defaultLogger = log.NewLogfmtLogger(os.Stderr)

func WithLogger(ctx context.Context, logger log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the logger of the context, or a logfmt logger writing to
// stderr.
func Logger(ctx context.Context) log.Logger {
	if logger, ok := ctx.Value(loggerKey).(log.Logger); ok {
		return logger
	}
	return defaultLogger
}

func WithRegistry(ctx context.Context, reg prometheus.Registerer) context.Context {
	return context.WithValue(ctx, registryKey, reg)
}

// Registry returns the registerer of the context. Without one, metrics are
// not registered anywhere.
func Registry(ctx context.Context) prometheus.Registerer {
	if reg, ok := ctx.Value(registryKey).(prometheus.Registerer); ok {
		return reg
	}
	return nil
}

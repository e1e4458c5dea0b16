// Package logctx carries a structured logger through a context.Context,
// adapted from the teacher's context/logger.go (which carried a logrus
// entry the same way through its own Context wrapper). This version uses
// stdlib context.Context directly, as is idiomatic in current Go.
package logctx

import (
	"context"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithField returns a copy of ctx whose logger has key=value attached,
// without mutating the logger already present in ctx.
func WithField(ctx context.Context, key string, value interface{}) context.Context {
	return WithLogger(ctx, GetLogger(ctx).WithField(key, value))
}

// GetLogger returns the logger carried by ctx, or the package-level
// standard logger if none was attached.
func GetLogger(ctx context.Context) *logrus.Entry {
	if l, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return l
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

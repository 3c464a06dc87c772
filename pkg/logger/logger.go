// Package logger builds the structured logger shared by the gateway.
package logger

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// New returns a logr.Logger backed by the standard library logger.
// level is one of "debug", "info", "warn" or "error".
func New(level string) logr.Logger {
	std := log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
	stdr.SetVerbosity(verbosity(level))
	return stdr.NewWithOptions(std, stdr.Options{LogCaller: stdr.Error}).WithName("gateway")
}

func verbosity(level string) int {
	switch strings.ToLower(level) {
	case "debug":
		return 1
	case "trace":
		return 2
	default:
		return 0
	}
}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l logr.Logger) context.Context {
	return logr.NewContext(ctx, l)
}

// FromContext returns the logger stored in ctx, or a discarding logger.
func FromContext(ctx context.Context) logr.Logger {
	if l, err := logr.FromContext(ctx); err == nil {
		return l
	}
	return logr.Discard()
}

// Package logging wires go.uber.org/zap behind a logr.Logger, the same
// logr-over-zap shape the teacher uses for its controllers, so every
// eventpipe component logs structured key/value pairs through one
// interface regardless of backend.
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap-backed logr.Logger. level is one of
// "debug"|"info"|"warn"|"error"; format is "json" or "console".
func New(level, format string) (logr.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return logr.Discard(), fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "json", "":
		cfg = zap.NewProductionConfig()
	default:
		return logr.Discard(), fmt.Errorf("invalid log format %q: expected \"json\" or \"console\"", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	zapLog, err := cfg.Build()
	if err != nil {
		return logr.Discard(), fmt.Errorf("failed to build zap logger: %w", err)
	}

	return zapr.NewLogger(zapLog), nil
}

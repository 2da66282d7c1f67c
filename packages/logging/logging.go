// Package logging builds the zap loggers used by the engine components.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level       string // debug, info, warn, error
	Development bool   // human-readable console encoding
}

// DefaultConfig returns the logging defaults.
func DefaultConfig() Config {
	return Config{
		Level: "warn",
	}
}

// ParseLevel parses a level string. Unknown values fall back to info and
// report false.
func ParseLevel(s string) (zapcore.Level, bool) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil || s == "" {
		return zapcore.InfoLevel, false
	}
	return level, true
}

// New builds a logger writing to stderr.
func New(cfg Config) (*zap.Logger, error) {
	level, _ := ParseLevel(cfg.Level)

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.Sampling = nil
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Package logging builds the zap.Logger every command-line entry
// point constructs its component loggers from, and redacts
// credentials out of connection strings before they ever reach a log
// line.
package logging

import (
	"regexp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level names accepted by New's level argument.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// New builds a zap.Logger at the named level, in either "console"
// (human-readable, for a terminal) or "json" (for log aggregation)
// encoding.
func New(level, encoding string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = encoding
	if encoding == "console" {
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	return cfg.Build()
}

var credentialsPattern = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*://[^:/?#]+):([^@/?#]+)@`)

// Redacted returns dsn with any embedded password replaced by
// "xxxxx", leaving the scheme, username, host, and query untouched.
// A dsn with no embedded password is returned unchanged.
func Redacted(dsn string) string {
	return credentialsPattern.ReplaceAllString(dsn, "${1}:xxxxx@")
}

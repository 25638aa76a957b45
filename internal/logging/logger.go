// Package logging builds the zap logger used across the watcher.
package logging

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nhle/approval-watcher/internal/model"
)

// Option adjusts New.
type Option func(*options)

type options struct {
	stdout bool
}

// WithoutStdout keeps stdout free, for the full-screen terminal UI. Only
// the log file, if any, receives entries.
func WithoutStdout() Option {
	return func(o *options) { o.stdout = false }
}

// New creates a logger from config. Entries go to stdout and, when
// cfg.File is set, are appended to that file as well.
func New(cfg model.LogConfig, opts ...Option) (*zap.Logger, error) {
	o := options{stdout: true}
	for _, opt := range opts {
		opt(&o)
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	var cores []zapcore.Core
	if o.stdout {
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.Format), zapcore.Lock(os.Stdout), level))
	}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", cfg.File, err)
		}
		// The file always gets JSON so it stays machine-readable.
		cores = append(cores, zapcore.NewCore(newEncoder("json"), zapcore.AddSync(f), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// newEncoder creates JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// Sync flushes any buffered log entries, ignoring the EINVAL/ENOTTY that
// stdout returns on Linux.
func Sync(l *zap.Logger) error {
	err := l.Sync()
	if err != nil && (errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)) {
		return nil
	}
	return err
}

// Redact replaces val with a marker carrying only its length.
func Redact(val string) string {
	return "[REDACTED:" + strconv.Itoa(len(val)) + "]"
}

// RedactedString creates a Zap field with redacted value and length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, Redact(val))
}

// Secret creates a Zap field for a model.Secret.
func Secret(key string, val model.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

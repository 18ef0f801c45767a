// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// L is the process-wide logger used by command and config code. Components
// receive their logger explicitly.
var L = zap.NewNop()

var initOnce sync.Once

// InitLogger installs a production logger as L. It is safe to call more than once.
func InitLogger() {
	initOnce.Do(func() {
		logger, err := New(false)
		if err != nil {
			return
		}
		L = logger
	})
}

// SetLogger replaces L, typically once configuration decided on development mode.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		L = logger
	}
}

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// WithTask tags logger with the short task id.
func WithTask(logger *zap.Logger, taskID string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(zap.String("task_id", taskID))
}

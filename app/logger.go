package app

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Production uses JSON output; every
// other environment gets the colored console encoder. The returned level can
// be changed while the logger is in use.
func NewLogger(env, level string) (*zap.Logger, zap.AtomicLevel, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("parse log level: %w", err)
	}
	config.Level = lvl
	config.OutputPaths = []string{"stdout"}

	logger, err := config.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("build logger: %w", err)
	}
	return logger, lvl, nil
}

// SetLevel applies a textual level to lvl, leaving it unchanged on error.
func SetLevel(lvl zap.AtomicLevel, level string) error {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	lvl.SetLevel(parsed)
	return nil
}

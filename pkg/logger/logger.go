package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig controls logger construction.
type LoggerConfig struct {
	Debug bool
	// Outputs overrides the default stdout sink. Primarily for tests.
	Outputs []string
}

// NewLogger creates a zap logger configured for the engine.
// Debug enables development encoding and debug-level output.
func NewLogger(cfg *LoggerConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = &LoggerConfig{}
	}

	var zapCfg zap.Config
	if cfg.Debug {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if len(cfg.Outputs) > 0 {
		zapCfg.OutputPaths = cfg.Outputs
	}

	return zapCfg.Build()
}

// NewNoopLogger returns a logger that discards everything. Useful in tests
// that only care about behavior, not log output.
func NewNoopLogger() *zap.Logger {
	return zap.NewNop()
}

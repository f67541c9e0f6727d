package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration
type Config struct {
	// Level is the minimum enabled logging level
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	Level string

	// Format selects the encoder
	// Valid values: "json", "console"
	// Default: "json"
	Format string

	// OutputPaths is a list of URLs or file paths to write logging output to.
	// Default: ["stderr"], so that stdout carries only the command's result
	OutputPaths []string
}

// New builds a logger from cfg. The console format is the development
// layout: colored levels, no sampling, stack traces from warn.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stderr"}
	}

	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zapConfig zap.Config
	switch cfg.Format {
	case "json":
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console":
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q, must be one of: json, console", cfg.Format)
	}
	zapConfig.Level = level
	zapConfig.OutputPaths = cfg.OutputPaths
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// NewDevelopment creates a debug-level console logger
func NewDevelopment() (*zap.Logger, error) {
	return New(Config{Level: "debug", Format: "console"})
}

// NewProduction creates an info-level JSON logger
func NewProduction() (*zap.Logger, error) {
	return New(Config{Level: "info", Format: "json"})
}

// WithComponent returns a logger with a "component" field
func WithComponent(logger *zap.Logger, component string) *zap.Logger {
	return logger.With(zap.String("component", component))
}

// WithChain returns a logger with a "chain" field
func WithChain(logger *zap.Logger, chain string) *zap.Logger {
	return logger.With(zap.String("chain", chain))
}

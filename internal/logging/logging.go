// Package logging builds the zap logger shared by the CLI and services.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger shape.
type Config struct {
	// Format is "json" (production) or "console" (development).
	Format string `yaml:"format"`
	// Level is a zap level name; empty means info.
	Level string `yaml:"level"`
	// Verbose forces debug regardless of Level.
	Verbose bool `yaml:"-"`
}

// New builds a logger writing to w. A nil writer writes to stderr.
func New(cfg Config, w io.Writer) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	if cfg.Verbose {
		level = zapcore.DebugLevel
	}

	var (
		encCfg  zapcore.EncoderConfig
		encoder zapcore.Encoder
	)
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "timestamp"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	sink := zapcore.Lock(os.Stderr)
	if w != nil {
		sink = zapcore.AddSync(w)
	}
	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// Package logging builds the zap logger shared by the server, the services
// and the alert scheduler.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config carries logger construction parameters.
type Config struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string `mapstructure:"level"`
	// Format is json or console. Empty means json.
	Format string `mapstructure:"format"`
}

// New builds a logger writing to stdout.
func New(cfg Config) (*zap.Logger, error) {
	logger, _, err := Build(cfg)
	return logger, err
}

// Build is New plus the level handle, so the level can change at runtime
// through SetLevel.
func Build(cfg Config) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, zap.AtomicLevel{}, fmt.Errorf("logging: unknown format %q (use json or console)", cfg.Format)
	}
	atom := zap.NewAtomicLevelAt(level)
	zc.Level = atom
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	return logger, atom, nil
}

// SetLevel parses s and applies it to atom.
func SetLevel(atom zap.AtomicLevel, s string) error {
	level, err := parseLevel(s)
	if err != nil {
		return err
	}
	atom.SetLevel(level)
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return level, fmt.Errorf("logging: unknown level %q", s)
	}
	return level, nil
}

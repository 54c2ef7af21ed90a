// Package logging builds the *zap.Logger shared by every other package,
// calling zap.NewProduction/zap.NewDevelopment at startup and threading
// the result through constructors.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger for the given level name ("debug", "info", "warn",
// "error") and mode. dev selects zap's human-readable development encoder
// (color level, stack traces on Warn+); otherwise the production JSON
// encoder is used, suited to log aggregation.
func New(levelName string, dev bool) (*zap.Logger, error) {
	level, err := parseLevel(levelName)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger, nil
}

func parseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("logging: invalid log level %q: %w", name, err)
	}
	return level, nil
}

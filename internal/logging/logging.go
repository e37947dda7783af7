// Package logging constructs the process-wide zap.Logger, grounded on
// webitel-im-delivery-service's go.uber.org/zap dependency — this repo's
// single logging standard, replacing the teacher's log.Printf calls with
// structured fields throughout (session, connection, user).
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger. env selects the encoder: "production" uses
// JSON output suited to log aggregation, anything else (including the
// default "development") uses zap's human-readable console encoder.
func New(env, level string) (*zap.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	if strings.EqualFold(env, "production") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("logging: invalid LOG_LEVEL %q: %w", level, err)
	}
	return lvl, nil
}

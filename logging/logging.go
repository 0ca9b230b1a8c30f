package logging

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/veritas-care/evv/common"
)

const (
	LevelFlagName  = "log.level"
	FormatFlagName = "log.format"
)

// Config ... logger settings read from CLI flags
type Config struct {
	Level  string
	Format string // json | console
}

// CLIFlags ... used to configure logging
func CLIFlags(envPrefix, category string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     LevelFlagName,
			Usage:    "The lowest log level that will be output. Accepted values: debug, info, warn, error",
			Value:    "info",
			EnvVars:  common.PrefixEnvVar(envPrefix, "LOG_LEVEL"),
			Category: category,
		},
		&cli.StringFlag{
			Name:     FormatFlagName,
			Usage:    "Log output encoding. Accepted values: json, console",
			Value:    "console",
			EnvVars:  common.PrefixEnvVar(envPrefix, "LOG_FORMAT"),
			Category: category,
		},
	}
}

// ReadCLIConfig ... reads logger settings from the CLI context
func ReadCLIConfig(ctx *cli.Context) Config {
	return Config{
		Level:  ctx.String(LevelFlagName),
		Format: ctx.String(FormatFlagName),
	}
}

// NewLogger builds a sugared zap logger from config.
func NewLogger(cfg Config) (*zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zcfg zap.Config
	switch strings.ToLower(cfg.Format) {
	case "json":
		zcfg = zap.NewProductionConfig()
	case "console", "":
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.Sugar(), nil
}

// NewTestLogger ... no-op logger for tests
func NewTestLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

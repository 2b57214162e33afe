package logging

import (
	"fmt"

	"github.com/hilthontt/readalong/internal/infrastructure/env"
)

const appName = "readalong"

type Logger interface {
	Init()

	Debug(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Debugf(template string, args ...any)

	Info(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Infof(template string, args ...any)

	Warn(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Warnf(template string, args ...any)

	Error(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Errorf(template string, args ...any)

	Fatal(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Fatalf(template string, args ...any)

	Sync() error
}

type LoggerConfig struct {
	FilePath   string
	Encoding   string
	Level      string
	Logger     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func NewDefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		FilePath:   env.GetString("LOGGER_FILE_PATH", "./logs/"),
		Encoding:   env.GetString("LOGGER_ENCODING", "json"),
		Level:      env.GetString("LOGGER_LEVEL", "debug"),
		Logger:     env.GetString("LOGGER_LOGGER", "zap"),
		MaxSizeMB:  env.GetInt("LOGGER_MAX_SIZE_MB", 10),
		MaxBackups: env.GetInt("LOGGER_MAX_BACKUPS", 5),
		MaxAgeDays: env.GetInt("LOGGER_MAX_AGE_DAYS", 20),
	}
}

func NewLogger(cfg *LoggerConfig) (Logger, error) {
	switch cfg.Logger {
	case "zap", "":
		return newZapLogger(cfg), nil
	case "zerolog":
		return newZeroLogger(cfg), nil
	}

	return nil, fmt.Errorf("logger not supported: %q, supported loggers: [zap, zerolog]", cfg.Logger)
}

func withCategory(cat Category, sub SubCategory, extra map[ExtraKey]any) map[ExtraKey]any {
	params := make(map[ExtraKey]any, len(extra)+2)
	for k, v := range extra {
		params[k] = v
	}
	params["Category"] = cat
	params["SubCategory"] = sub
	return params
}

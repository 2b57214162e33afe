package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var zeroLogLevelMapping = map[string]zerolog.Level{
	"debug": zerolog.DebugLevel,
	"info":  zerolog.InfoLevel,
	"warn":  zerolog.WarnLevel,
	"error": zerolog.ErrorLevel,
	"fatal": zerolog.FatalLevel,
}

type zeroLogger struct {
	cfg    *LoggerConfig
	logger zerolog.Logger
}

func newZeroLogger(cfg *LoggerConfig) *zeroLogger {
	l := &zeroLogger{cfg: cfg}
	l.Init()
	return l
}

func (l *zeroLogger) level() zerolog.Level {
	level, exists := zeroLogLevelMapping[l.cfg.Level]
	if !exists {
		return zerolog.DebugLevel
	}
	return level
}

func (l *zeroLogger) Init() {
	var stdout io.Writer = os.Stdout
	if l.cfg.Encoding == "console" {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	writers := []io.Writer{stdout}
	if l.cfg.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(l.cfg.FilePath, appName+".log"),
			MaxSize:    l.cfg.MaxSizeMB,
			MaxAge:     l.cfg.MaxAgeDays,
			MaxBackups: l.cfg.MaxBackups,
			LocalTime:  true,
			Compress:   true,
		})
	}

	l.logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(l.level()).
		With().
		Timestamp().
		Str(string(AppName), appName).
		Str(string(LoggerName), "Zerolog").
		Logger()
}

func (l *zeroLogger) Debug(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any) {
	l.logger.Debug().Fields(logParamsToZeroParams(withCategory(cat, sub, extra))).Msg(msg)
}

func (l *zeroLogger) Debugf(template string, args ...any) {
	l.logger.Debug().Msgf(template, args...)
}

func (l *zeroLogger) Info(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any) {
	l.logger.Info().Fields(logParamsToZeroParams(withCategory(cat, sub, extra))).Msg(msg)
}

func (l *zeroLogger) Infof(template string, args ...any) {
	l.logger.Info().Msgf(template, args...)
}

func (l *zeroLogger) Warn(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any) {
	l.logger.Warn().Fields(logParamsToZeroParams(withCategory(cat, sub, extra))).Msg(msg)
}

func (l *zeroLogger) Warnf(template string, args ...any) {
	l.logger.Warn().Msgf(template, args...)
}

func (l *zeroLogger) Error(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any) {
	l.logger.Error().Fields(logParamsToZeroParams(withCategory(cat, sub, extra))).Msg(msg)
}

func (l *zeroLogger) Errorf(template string, args ...any) {
	l.logger.Error().Msgf(template, args...)
}

func (l *zeroLogger) Fatal(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any) {
	l.logger.Fatal().Fields(logParamsToZeroParams(withCategory(cat, sub, extra))).Msg(msg)
}

func (l *zeroLogger) Fatalf(template string, args ...any) {
	l.logger.Fatal().Msgf(template, args...)
}

func (l *zeroLogger) Sync() error {
	return nil
}

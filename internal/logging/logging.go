// Package logging builds the zap loggers used across roiwatch and adapts them
// to the logger interfaces expected by goa and golang-migrate.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"goa.design/goa/v3/middleware"
)

// NewLoggerConfig returns the base config: console output with colored
// levels, or JSON lines when jsonOutput is set.
func NewLoggerConfig(level zapcore.Level, jsonOutput bool) zap.Config {
	encoding := "console"
	encodeLevel := zapcore.CapitalColorLevelEncoder
	if jsonOutput {
		encoding = "json"
		encodeLevel = zapcore.LowercaseLevelEncoder
	}
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// ParseLevel maps a level name ("debug", "info", "warn", "error") to a zap
// level. The empty string means info.
func ParseLevel(name string) (zapcore.Level, error) {
	if strings.TrimSpace(name) == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q: %w", name, err)
	}
	return lvl, nil
}

// New builds a named sugared logger.
func New(name, level string, jsonOutput bool) (*zap.SugaredLogger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger, err := NewLoggerConfig(lvl, jsonOutput).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Sugar().Named(name), nil
}

// GoaAdapter lets goa middleware log through zap.
type GoaAdapter struct {
	logger *zap.SugaredLogger
}

// NewGoaAdapter wraps logger for use with goa's http middleware.
func NewGoaAdapter(logger *zap.SugaredLogger) *GoaAdapter {
	return &GoaAdapter{logger: logger}
}

// Log implements middleware.Logger. goa passes alternating key/value pairs;
// a "msg" key, if present, becomes the log message.
func (a *GoaAdapter) Log(keyvals ...any) error {
	msg := "request"
	fields := make([]any, 0, len(keyvals))
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		var val any = "MISSING"
		if i+1 < len(keyvals) {
			val = keyvals[i+1]
		}
		if key == "msg" {
			msg = fmt.Sprint(val)
			continue
		}
		fields = append(fields, key, val)
	}
	a.logger.Infow(msg, fields...)
	return nil
}

var _ middleware.Logger = (*GoaAdapter)(nil)

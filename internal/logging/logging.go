// Package logging builds the structured logger shared by every long-lived
// component, grounded on tommaduri-AuthZ/cmd/authz-server/main.go's
// initLogger: a zap.Config selected by format (production JSON vs.
// development console) with the level parsed from a flag string.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// New builds a *zap.Logger. format is "json" (production) or "console"
// (development); level is one of debug/info/warn/error. When logFile is
// non-empty, the production encoder writes through a lumberjack rotating
// writer instead of stderr, matching the teacher's rotation wiring.
func New(level, format, logFile string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	if format == "console" {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapLevel)
		return cfg.Build()
	}

	if logFile == "" {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapLevel)
		return cfg.Build()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	})

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), writer, zapLevel)
	return zap.New(core, zap.AddCaller()), nil
}

// MustParseLevel is a small helper for callers that want a hard failure
// on an unrecognized level string instead of New's silent info fallback.
func MustParseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("parse log level %q: %w", level, err)
	}
	return l, nil
}

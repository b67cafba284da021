// Package logger provides leveled structured logging.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides leveled logging.
type Logger struct {
	level zap.AtomicLevel
	sugar *zap.SugaredLogger
}

var defaultLogger = &Logger{
	level: zap.NewAtomicLevelAt(zapcore.InfoLevel),
	sugar: zap.NewNop().Sugar(),
}

// Init initializes the default logger with the specified level and format.
// Output always goes to stderr; stdout is reserved for the MCP transport.
func Init(level string, format string) {
	l := parseLevel(level)

	var cfg zap.Config
	if strings.ToLower(format) == "text" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(l)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		z = zap.New(zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.Lock(os.Stderr),
			cfg.Level,
		))
	}

	defaultLogger = &Logger{level: cfg.Level, sugar: z.Sugar()}
}

// SetLevel changes the level of the default logger at runtime.
func SetLevel(level string) {
	defaultLogger.level.SetLevel(parseLevel(level))
}

// Sync flushes buffered log entries.
func Sync() {
	_ = defaultLogger.sugar.Sync()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func Debug(format string, args ...interface{}) {
	defaultLogger.sugar.Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.sugar.Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.sugar.Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.sugar.Errorf(format, args...)
}

func Fatal(format string, args ...interface{}) {
	defaultLogger.sugar.Errorf(format, args...)
	Sync()
	os.Exit(1)
}

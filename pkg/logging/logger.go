// Package logging wraps go.uber.org/zap into the leveled
// silent/error/info/debug abstraction the kernel and transports log
// through, in the style of the teacher's internal/v1/logging package.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is one of the four levels the kernel config surface names.
type Level string

const (
	LevelSilent Level = "silent"
	LevelError  Level = "error"
	LevelInfo   Level = "info"
	LevelDebug  Level = "debug"
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		// Silent is enforced by the no-op logger, not by raising the level.
		return zapcore.ErrorLevel
	}
}

// Logger is a small scoped wrapper around *zap.Logger. The zero value is
// not usable; construct with New.
type Logger struct {
	z      *zap.Logger
	silent bool
}

// New builds a Logger at the given level. Development controls the
// encoder (colorized console vs. JSON), matching zap.NewDevelopmentConfig
// vs zap.NewProductionConfig in the teacher's Initialize.
func New(level Level, development bool) (*Logger, error) {
	if level == LevelSilent {
		return &Logger{z: zap.NewNop(), silent: true}, nil
	}

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// Nop returns a Logger that discards everything, used as a default when
// no logger is configured.
func Nop() *Logger {
	return &Logger{z: zap.NewNop(), silent: true}
}

// Scoped returns a child logger carrying the given fields on every
// subsequent call, mirroring the teacher's appendContextFields but bound
// to the value instead of a context.Context.
func (l *Logger) Scoped(fields ...zap.Field) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{z: l.z.With(fields...), silent: l.silent}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.z.Debug(msg, fields...)
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.z.Info(msg, fields...)
}

func (l *Logger) Error(msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.z.Error(msg, fields...)
}

// Field re-exports zap.Field constructors so callers don't need a direct
// zap import just to build log fields.
var (
	String = zap.String
	Int    = zap.Int
	Err    = zap.Error
	Bool   = zap.Bool
)

package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface used throughout castellan. It's a thin
// wrapper over zap so call sites aren't coupled to a particular backend.
type Logger interface {
	With(fields ...Field) Logger
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field is a typed key-value pair attached to a log line.
type Field = zapcore.Field

func String(key, val string) Field      { return zap.String(key, val) }
func Int32(key string, val int32) Field { return zap.Int32(key, val) }
func Int(key string, val int) Field     { return zap.Int(key, val) }
func Error(key string, err error) Field { return zap.NamedError(key, err) }
func Any(key string, val interface{}) Field {
	return zap.Any(key, val)
}

type logger struct {
	z *zap.Logger
}

// New returns a production logger writing to stderr.
func New() Logger {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	return &logger{z: z}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() Logger {
	return &logger{z: zap.NewNop()}
}

func (l *logger) With(fields ...Field) Logger {
	return &logger{z: l.z.With(fields...)}
}

func (l *logger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *logger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *logger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

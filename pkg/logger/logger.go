package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a logger writing to stdout. format is "console" or "json",
// level is any zap level name ("debug", "info", ...).
func New(level, format string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	return build(zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), lvl)), nil
}

// build reports the caller of the Logger method, one frame above zap.
func build(core zapcore.Core) *Logger {
	return FromZap(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))
}

// FromZap wraps an existing zap logger.
func FromZap(z *zap.Logger) *Logger {
	return &Logger{sugar: z.Sugar()}
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

func (l *Logger) Fatal(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
	_ = l.sugar.Sync()
	os.Exit(1)
}

func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

func (l *Logger) withCallerSkip(n int) *Logger {
	return &Logger{sugar: l.sugar.WithOptions(zap.AddCallerSkip(n))}
}

// GlobalLogger is the process-wide logger. global is the same logger with
// one more caller frame skipped for the package-level helpers; replace both
// through Configure or SetGlobal.
var (
	GlobalLogger = mustDefault()
	global       = GlobalLogger.withCallerSkip(1)
)

func mustDefault() *Logger {
	l, err := New("info", "console")
	if err != nil {
		panic(err)
	}
	return l
}

// Configure replaces the global logger.
func Configure(level, format string) error {
	l, err := New(level, format)
	if err != nil {
		return err
	}
	SetGlobal(l)
	return nil
}

// SetGlobal swaps the global logger, mainly for tests.
func SetGlobal(l *Logger) {
	GlobalLogger = l
	global = l.withCallerSkip(1)
}

// Convenience functions
func Info(format string, v ...interface{}) {
	global.Info(format, v...)
}

func Warn(format string, v ...interface{}) {
	global.Warn(format, v...)
}

func Error(format string, v ...interface{}) {
	global.Error(format, v...)
}

func Debug(format string, v ...interface{}) {
	global.Debug(format, v...)
}

func Fatal(format string, v ...interface{}) {
	global.Fatal(format, v...)
}

func Sync() error {
	return global.Sync()
}

package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hvdkamer/relaydesk/internal/util"
)

// Log is the shared logger. Package-level shortcuts below cover the common
// printf-style call sites; use Log directly for structured fields.
var Log *zap.Logger

var (
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	recent = util.NewRing[string](400)
)

func init() {
	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalColorLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	console := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stdout),
		level,
	)

	// Second core feeding the in-memory tail, without color escapes.
	plainCfg := encCfg
	plainCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	tail := zapcore.NewCore(
		zapcore.NewConsoleEncoder(plainCfg),
		zapcore.AddSync(ringWriter{}),
		level,
	)

	Log = zap.New(zapcore.NewTee(console, tail), zap.AddCaller(), zap.AddCallerSkip(1))
}

// ringWriter keeps the last few hundred rendered lines so a front end can
// show recent diagnostics without scraping stdout.
type ringWriter struct{}

func (ringWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		recent.Push(line)
	}
	return len(p), nil
}

// Recent returns the retained log lines, oldest first.
func Recent() []string { return recent.Snapshot() }

// SetLevel changes the minimum level at runtime ("debug", "info", "warn", "error").
func SetLevel(s string) error {
	lv, err := zapcore.ParseLevel(s)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", s, err)
	}
	level.SetLevel(lv)
	return nil
}

// Level reports the current minimum level.
func Level() string { return level.Level().String() }

func Info(msg string, fields ...zap.Field) { Log.Info(msg, fields...) }
func Infof(format string, args ...interface{}) {
	Log.Info(fmt.Sprintf(format, args...))
}
func Warn(msg string, fields ...zap.Field) { Log.Warn(msg, fields...) }
func Warnf(format string, args ...interface{}) {
	Log.Warn(fmt.Sprintf(format, args...))
}
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }
func Errorf(format string, args ...interface{}) {
	Log.Error(fmt.Sprintf(format, args...))
}
func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }
func Debugf(format string, args ...interface{}) {
	Log.Debug(fmt.Sprintf(format, args...))
}

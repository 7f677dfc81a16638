// Package applog provides the project's two persistent log sinks:
// Logs/Debug.log (every level) and Logs/WarningsErrors.log (warn and
// above), both truncated at process start so each run's log reflects only
// that run.
package applog

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field aliases zap.Field so callers never import zap directly.
type Field = zap.Field

var (
	String = zap.String
	Int    = zap.Int
	Int64  = zap.Int64
	Bool   = zap.Bool
	Any    = zap.Any
	Error  = zap.Error
	Stringer = zap.Stringer
)

// Logger wraps a zap.Logger writing to the project's two log files.
type Logger struct {
	zap *zap.Logger
}

// Open creates projectDir/Logs if needed, truncates Debug.log and
// WarningsErrors.log, and returns a Logger writing every level to the
// first and warn-or-above to the second.
func Open(projectDir string) (*Logger, error) {
	logDir := filepath.Join(projectDir, "Logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("applog: create log dir: %w", err)
	}

	debugFile, err := os.OpenFile(filepath.Join(logDir, "Debug.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("applog: open Debug.log: %w", err)
	}
	warnFile, err := os.OpenFile(filepath.Join(logDir, "WarningsErrors.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		debugFile.Close()
		return nil, fmt.Errorf("applog: open WarningsErrors.log: %w", err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(debugFile), zapcore.DebugLevel),
		zapcore.NewCore(encoder, zapcore.AddSync(warnFile), zapcore.WarnLevel),
	)

	return &Logger{zap: zap.New(core, zap.AddCaller())}, nil
}

// NewNop returns a logger that discards everything, for tests and any
// caller that has not opened a project directory yet.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

func (l *Logger) Sync() error { return l.zap.Sync() }

func (l *Logger) Debug(msg string, fields ...Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.zap.Error(msg, fields...) }

// With returns a child logger carrying fields on every subsequent entry,
// used to scope a logger to one pipeline run via the orchestrator's RunID.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

// Named returns a child logger tagged with the given stage/component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zap: l.zap.Named(name)}
}

// internal/logger/logger.go

package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

type Mode int

const (
	MINIMAL Mode = iota
	NORMAL
	FULL
)

var zapLevels = map[Level]zapcore.Level{
	DEBUG: zapcore.DebugLevel,
	INFO:  zapcore.InfoLevel,
	WARN:  zapcore.WarnLevel,
	ERROR: zapcore.ErrorLevel,
	FATAL: zapcore.FatalLevel,
}

// Logger is a printf-style leveled logger backed by zap.
type Logger struct {
	base    *zap.Logger
	sugar   *zap.SugaredLogger
	level   zap.AtomicLevel
	mode    Mode
	logFile *os.File
}

type Config struct {
	Level       Level
	Mode        Mode
	LogFilePath string
	UseColors   bool
}

func New(cfg Config) (*Logger, error) {
	atom := zap.NewAtomicLevelAt(toZapLevel(cfg.Level))

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig(cfg)), zapcore.Lock(os.Stdout), atom),
	}

	l := &Logger{level: atom, mode: cfg.Mode}

	if cfg.LogFilePath != "" {
		file, err := openLogFile(cfg.LogFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to setup log file: %w", err)
		}
		l.logFile = file

		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.TimeKey = "timestamp"
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(file), atom))
	}

	var opts []zap.Option
	if cfg.Mode == FULL {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	l.base = zap.New(zapcore.NewTee(cores...), opts...)
	l.sugar = l.base.Sugar()
	return l, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	base := zap.NewNop()
	return &Logger{base: base, sugar: base.Sugar(), level: zap.NewAtomicLevel()}
}

func consoleEncoderConfig(cfg Config) zapcore.EncoderConfig {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	if cfg.UseColors {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	switch cfg.Mode {
	case MINIMAL:
		enc.TimeKey = ""
		enc.CallerKey = ""
		enc.NameKey = ""
	case NORMAL:
		enc.CallerKey = ""
	case FULL:
		enc.EncodeCaller = zapcore.ShortCallerEncoder
	}
	return enc
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func toZapLevel(level Level) zapcore.Level {
	if zl, ok := zapLevels[level]; ok {
		return zl
	}
	return zapcore.InfoLevel
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	child := l.base.Named(component)
	return &Logger{base: child, sugar: child.Sugar(), level: l.level, mode: l.mode}
}

func (l *Logger) Close() error {
	_ = l.base.Sync()
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	l.sugar.Fatalf(format, args...)
}

func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(toZapLevel(level))
}

func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return DEBUG
	case "info", "INFO":
		return INFO
	case "warn", "WARN", "warning", "WARNING":
		return WARN
	case "error", "ERROR":
		return ERROR
	case "fatal", "FATAL":
		return FATAL
	default:
		return INFO
	}
}

func ParseMode(s string) Mode {
	switch s {
	case "minimal", "MINIMAL":
		return MINIMAL
	case "normal", "NORMAL":
		return NORMAL
	case "full", "FULL":
		return FULL
	default:
		return NORMAL
	}
}

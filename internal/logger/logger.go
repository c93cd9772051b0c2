// Package logger sets up the process-wide zap logger that the terrain
// packages name per component.
package logger

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the process logger. It is nil until Setup is called.
var Log *zap.Logger

// Options configures Setup.
type Options struct {
	Level string // debug, info (default), warn or error

	// Console receives the human readable stream; nil disables it.
	Console io.Writer
	Color   bool

	// File receives a second, rotated stream when set.
	File     string
	Format   string // "json" (default) or "console"
	Rotation Rotation
}

// Rotation bounds the log file. Zero values take lumberjack's defaults.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Setup builds the logger described by o and installs it as Log.
func Setup(o Options) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if o.Level != "" {
		var err error
		if lvl, err = zapcore.ParseLevel(o.Level); err != nil {
			return nil, err
		}
	}

	var cores []zapcore.Core
	if o.Console != nil {
		cores = append(cores, zapcore.NewCore(consoleEncoder(o.Color), zapcore.AddSync(o.Console), lvl))
	}
	if o.File != "" {
		enc, err := fileEncoder(o.Format)
		if err != nil {
			return nil, err
		}
		w := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.Rotation.MaxSizeMB,
			MaxBackups: o.Rotation.MaxBackups,
			MaxAge:     o.Rotation.MaxAgeDays,
			Compress:   o.Rotation.Compress,
			LocalTime:  true,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(w), lvl))
	}

	Log = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return Log, nil
}

// encoderConfig is shared by every stream; the component is the logger
// name given to For.
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		NameKey:          "component",
		MessageKey:       "msg",
		CallerKey:        "caller",
		StacktraceKey:    "stack",
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeLevel:      zapcore.LowercaseLevelEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
}

func consoleEncoder(color bool) zapcore.Encoder {
	cfg := encoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func fileEncoder(format string) (zapcore.Encoder, error) {
	switch format {
	case "", "json":
		return zapcore.NewJSONEncoder(encoderConfig()), nil
	case "console":
		cfg := encoderConfig()
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// For returns a logger named after a terrain component. Packages call it
// when no logger was passed to them explicitly.
func For(component string) *zap.Logger {
	if Log == nil {
		return zap.NewNop()
	}
	return Log.Named(component)
}

// Sync flushes any buffered log entries.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

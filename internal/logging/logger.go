// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes a rotating log file written alongside stderr.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New builds a zap.Logger configured for development or production. Both
// variants write to stderr so stdout stays free for "-" output.
func New(development bool, opts ...zap.Option) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build logger (development=%t): %w", development, err)
	}
	return logger, nil
}

// Sync flushes logger, ignoring the errors stderr returns on some platforms.
func Sync(logger *zap.Logger) {
	_ = logger.Sync() //nolint:errcheck // best-effort flush
}

// WithFile returns an option that tees every entry the logger accepts into a
// rotating JSON file. Close the returned io.Closer after the final Sync.
func WithFile(cfg FileConfig) (zap.Option, io.Closer) {
	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	opt := zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		file := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), core)
		return zapcore.NewTee(core, file)
	})
	return opt, rotator
}

package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options select the encoding, level and sink of the service logger.
type Options struct {
	JSON   bool
	Debug  bool
	Output string
}

// New builds the service logger. Scans and the API server both log to stderr
// by default so stdout stays free for JSON reports.
func New(opts Options) (*zap.Logger, error) {
	encoding := "console"
	if opts.JSON {
		encoding = "json"
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Debug {
		level.SetLevel(zapcore.DebugLevel)
	}

	output := opts.Output
	if output == "" {
		output = "stderr"
	}

	encoder := zapcore.EncoderConfig{
		MessageKey:     "step",
		LevelKey:       "level",
		TimeKey:        "time",
		CallerKey:      "caller",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}

	return zap.Config{
		Encoding:         encoding,
		Level:            level,
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{output},
		EncoderConfig:    encoder,
	}.Build()
}

// Package logging builds the zap loggers used by the commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// Development switches the console output to zap's development encoder.
	Development bool
	// ErrorFile, when set, also receives error-level entries as JSON lines.
	ErrorFile string
}

// New returns a logger writing to stderr, teed to ErrorFile when set. The
// returned close func syncs the logger and closes the file.
func New(opts Options) (*zap.Logger, func(), error) {
	return NewWithWriter(os.Stderr, opts)
}

// NewWithWriter is New with the console output sent to w.
func NewWithWriter(w io.Writer, opts Options) (*zap.Logger, func(), error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if opts.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level),
	}

	var file *os.File
	if opts.ErrorFile != "" {
		file, err = os.OpenFile(opts.ErrorFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open error log %s: %w", opts.ErrorFile, err)
		}
		jsonCfg := zap.NewProductionEncoderConfig()
		jsonCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), zapcore.AddSync(file), zapcore.ErrorLevel))
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	closeFn := func() {
		_ = log.Sync()
		if file != nil {
			_ = file.Close()
		}
	}
	return log, closeFn, nil
}

// ParseLevel accepts zap level names, case-insensitively. Empty is info.
func ParseLevel(s string) (zapcore.Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return l, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

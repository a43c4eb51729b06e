package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	BackendSlog = "slog"
	BackendZap  = "zap"

	FormatJSON = "json"
	FormatText = "text"
)

// Options selects the logger backend, level and output format.
type Options struct {
	Backend string
	Level   string // debug, info, warn, error
	Format  string // json, text
	Output  io.Writer
}

// New builds a Logger for opts. The returned func flushes buffered output
// and should be called before exit.
func New(opts Options) (Logger, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(opts.Backend) {
	case "", BackendSlog:
		var level slog.Level
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, noop, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		ho := &slog.HandlerOptions{Level: level}
		var h slog.Handler
		if opts.Format == FormatText {
			h = slog.NewTextHandler(opts.Output, ho)
		} else {
			h = slog.NewJSONHandler(opts.Output, ho)
		}
		return NewSlogLogger(slog.New(h)), noop, nil

	case BackendZap:
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, noop, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		var enc zapcore.Encoder
		if opts.Format == FormatText {
			enc = zapcore.NewConsoleEncoder(encCfg)
		} else {
			enc = zapcore.NewJSONEncoder(encCfg)
		}
		core := zapcore.NewCore(enc, zapcore.AddSync(opts.Output), zap.NewAtomicLevelAt(level))
		zl := NewZapLogger(zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel)))
		return zl, zl.Sync, nil
	}

	return nil, noop, fmt.Errorf("unknown log backend %q", opts.Backend)
}

// Package logger builds the zap loggers used by the server, the CLI and the
// GORM and gin adapters.
package logger

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ISO8601Millis is the default timestamp layout
const ISO8601Millis = "2006-01-02T15:04:05.000Z07:00"

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or a file path
	TimeFormat string
}

// New builds a logger for cfg. A nil cfg logs info and above to stdout in
// console format. Extra cores receive every entry alongside the output.
func New(cfg *Config, extra ...zapcore.Core) (*zap.Logger, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
	if c.TimeFormat == "" {
		c.TimeFormat = ISO8601Millis
	}

	// zap.Open understands stdout, stderr and plain paths
	sink, _, err := zap.Open(c.Output)
	if err != nil {
		return nil, fmt.Errorf("open log output %q: %w", c.Output, err)
	}

	var core zapcore.Core = zapcore.NewCore(encoderFor(c), sink, parseLevel(c.Level))
	if len(extra) > 0 {
		core = zapcore.NewTee(append([]zapcore.Core{core}, extra...)...)
	}
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// Tee returns a child of base that also writes every entry to cores
func Tee(base *zap.Logger, cores ...zapcore.Core) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	if len(cores) == 0 {
		return base
	}
	return base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(append([]zapcore.Core{core}, cores...)...)
	}))
}

// parseLevel accepts zap level names plus "warning"; anything else is info
func parseLevel(s string) zapcore.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return zapcore.WarnLevel
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil || s == "" {
		return zapcore.InfoLevel
	}
	return lvl
}

func encoderFor(c Config) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(c.TimeFormat)
	ec.EncodeDuration = zapcore.MillisDurationEncoder

	if strings.EqualFold(c.Format, "json") {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

// Sync flushes buffered entries. Terminals reject fsync, which is not worth
// reporting.
func Sync(log *zap.Logger) error {
	err := log.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}

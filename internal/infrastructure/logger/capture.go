package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Capture collects rendered log lines in memory so a single sync run can hand
// its log back to the caller (the upload response carries it as "logs").
type Capture struct {
	mu    sync.Mutex
	lines []string
	core  zapcore.Core
}

// NewCapture creates a Capture that records entries at or above level
func NewCapture(level zapcore.LevelEnabler) *Capture {
	c := &Capture{}
	c.core = &captureCore{
		LevelEnabler: level,
		enc: zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			TimeKey:          "time",
			LevelKey:         "level",
			NameKey:          "logger",
			MessageKey:       "msg",
			CallerKey:        zapcore.OmitKey,
			FunctionKey:      zapcore.OmitKey,
			StacktraceKey:    zapcore.OmitKey,
			LineEnding:       zapcore.DefaultLineEnding,
			EncodeLevel:      zapcore.CapitalLevelEncoder,
			EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
			EncodeDuration:   zapcore.StringDurationEncoder,
			EncodeName:       zapcore.FullNameEncoder,
			ConsoleSeparator: " - ",
		}),
		sink: c,
	}
	return c
}

// Core returns the zapcore.Core that feeds this capture
func (c *Capture) Core() zapcore.Core {
	return c.core
}

// Attach returns a child of base that also writes into the capture
func (c *Capture) Attach(base *zap.Logger) *zap.Logger {
	return Tee(base, c.core)
}

// Lines returns a copy of the captured lines in write order
func (c *Capture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

// Reset discards all captured lines
func (c *Capture) Reset() {
	c.mu.Lock()
	c.lines = nil
	c.mu.Unlock()
}

func (c *Capture) append(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

type captureCore struct {
	zapcore.LevelEnabler
	enc  zapcore.Encoder
	sink *Capture
}

func (cc *captureCore) With(fields []zapcore.Field) zapcore.Core {
	enc := cc.enc.Clone()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return &captureCore{LevelEnabler: cc.LevelEnabler, enc: enc, sink: cc.sink}
}

func (cc *captureCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if cc.Enabled(ent.Level) {
		return ce.AddCore(ent, cc)
	}
	return ce
}

func (cc *captureCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := cc.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	line := strings.TrimRight(buf.String(), "\n")
	buf.Free()
	cc.sink.append(line)
	return nil
}

func (cc *captureCore) Sync() error {
	return nil
}

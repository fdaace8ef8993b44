package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog wrapper. Error lines are additionally fed to the
// alert collector when one is attached.
type Logger struct {
	zl     zerolog.Logger
	alerts *alertSink
}

// alertSink is shared by a logger and every child created with With, so a
// collector attached after the children exist still sees their errors.
type alertSink struct {
	mu        sync.RWMutex
	collector *LogCollector
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr or a file path
	TimeFormat string
	Service    string // stamped on every line
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop(), alerts: &alertSink{}}
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}

	zctx := zerolog.New(out).Level(level).With().Timestamp().CallerWithSkipFrameCount(4)
	if cfg.Service != "" {
		zctx = zctx.Str("service", cfg.Service)
	}
	return &Logger{zl: zctx.Logger(), alerts: &alertSink{}}, nil
}

func openOutput(target string) (io.Writer, error) {
	switch target {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", target, err)
	}
	return f, nil
}

func (l *Logger) Debug(msg string, fields ...Field) { write(l.zl.Debug(), msg, fields) }

func (l *Logger) Info(msg string, fields ...Field) { write(l.zl.Info(), msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) { write(l.zl.Warn(), msg, fields) }

func (l *Logger) Error(msg string, fields ...Field) {
	write(l.zl.Error(), msg, fields)
	l.collect("error", msg, fields)
}

func write(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		f.write(e)
	}
	e.Msg(msg)
}

// collect must be called directly from a level method so the caller frame
// points at user code.
func (l *Logger) collect(level, msg string, fields []Field) {
	l.alerts.mu.RLock()
	c := l.alerts.collector
	l.alerts.mu.RUnlock()
	if c == nil {
		return
	}

	caller := "unknown"
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = filepath.Join(filepath.Base(filepath.Dir(file)), filepath.Base(file)) + ":" + strconv.Itoa(line)
	}
	values := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		values[f.Key] = f.Value
	}
	c.AddLog(level, msg, values, caller)
}

// With returns a child logger that carries fields on every line.
func (l *Logger) With(fields ...Field) *Logger {
	zctx := l.zl.With()
	for _, f := range fields {
		zctx = zctx.Interface(f.Key, f.Value)
	}
	return &Logger{zl: zctx.Logger(), alerts: l.alerts}
}

// AddCollector starts aggregating error lines, replacing any previous
// collector after flushing it.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	next := NewLogCollector(cfg)
	l.alerts.mu.Lock()
	prev := l.alerts.collector
	l.alerts.collector = next
	l.alerts.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// RemoveCollector detaches the collector and waits for its final flush.
func (l *Logger) RemoveCollector() {
	l.alerts.mu.Lock()
	c := l.alerts.collector
	l.alerts.collector = nil
	l.alerts.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// Field is one structured key/value. Value is what the alert collector
// sees; write renders it on the zerolog event.
type Field struct {
	Key   string
	Value interface{}
	write func(e *zerolog.Event)
}

func String(key, value string) Field {
	return Field{Key: key, Value: value, write: func(e *zerolog.Event) { e.Str(key, value) }}
}

func Strings(key string, value []string) Field {
	return String(key, strings.Join(value, ", "))
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value, write: func(e *zerolog.Event) { e.Int(key, value) }}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value, write: func(e *zerolog.Event) { e.Int64(key, value) }}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value, write: func(e *zerolog.Event) { e.Float64(key, value) }}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value, write: func(e *zerolog.Event) { e.Bool(key, value) }}
}

func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value.Format(time.RFC3339Nano), write: func(e *zerolog.Event) { e.Time(key, value) }}
}

// Duration is logged in milliseconds.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String(), write: func(e *zerolog.Event) { e.Dur(key, value) }}
}

func Error(err error) Field {
	var text string
	if err != nil {
		text = err.Error()
	}
	return Field{Key: zerolog.ErrorFieldName, Value: text, write: func(e *zerolog.Event) { e.Err(err) }}
}

func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value, write: func(e *zerolog.Event) { e.Interface(key, value) }}
}

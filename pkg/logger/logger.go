package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a thin wrapper over zerolog that takes typed fields instead of the
// chained event API, so call sites stay one line.
type Logger struct {
	zl zerolog.Logger
}

type Config struct {
	Level      string // debug, info, warn or error
	Format     string // json or console
	Output     string // stdout, stderr or a file path
	TimeFormat string
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

	tf := cfg.TimeFormat
	if tf == "" {
		tf = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = tf
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: tf}
	}

	// skip emit and the level method so the caller is the package that logged
	zl := zerolog.New(out).Level(level).With().Timestamp().CallerWithSkipFrameCount(3).Logger()
	return &Logger{zl: zl}, nil
}

func openOutput(name string) (io.Writer, error) {
	switch name {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", name, err)
	}
	return f, nil
}

// NewWriter logs JSON to w. An unknown level falls back to info.
func NewWriter(w io.Writer, level string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return &Logger{zl: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that stamps every event with fields.
func (l *Logger) With(fields ...Field) *Logger {
	kv := make([]interface{}, 0, 2*len(fields))
	for _, f := range fields {
		kv = append(kv, f.key, f.val)
	}
	return &Logger{zl: l.zl.With().Fields(kv).Logger()}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.emit(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.emit(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.emit(l.zl.Error(), msg, fields) }

func (l *Logger) emit(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		f.write(e)
	}
	e.Msg(msg)
}

// Field is one key/value pair of a log line.
type Field struct {
	key string
	val interface{}
}

func (f Field) write(e *zerolog.Event) {
	switch v := f.val.(type) {
	case nil:
	case string:
		e.Str(f.key, v)
	case int:
		e.Int(f.key, v)
	case int64:
		e.Int64(f.key, v)
	case float64:
		e.Float64(f.key, v)
	case bool:
		e.Bool(f.key, v)
	case time.Time:
		e.Time(f.key, v)
	case []string:
		e.Strs(f.key, v)
	case error:
		e.AnErr(f.key, v)
	default:
		e.Interface(f.key, v)
	}
}

func String(key, value string) Field           { return Field{key, value} }
func Strings(key string, value []string) Field { return Field{key, value} }
func Int(key string, value int) Field          { return Field{key, value} }
func Int64(key string, value int64) Field      { return Field{key, value} }
func Float64(key string, value float64) Field  { return Field{key, value} }
func Bool(key string, value bool) Field        { return Field{key, value} }
func Time(key string, value time.Time) Field   { return Field{key, value} }
func Any(key string, value interface{}) Field  { return Field{key, value} }

// Duration logs whole milliseconds.
func Duration(key string, value time.Duration) Field {
	return Field{key, value.Milliseconds()}
}

// Error logs err under zerolog's error key. A nil error is dropped.
func Error(err error) Field {
	return Field{zerolog.ErrorFieldName, err}
}

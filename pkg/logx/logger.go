package logx

import (
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
)

// Logger emits structured events into whatever sinks its Service currently
// holds. Loggers are values: With returns a copy carrying extra fixed
// fields, and every copy picks up sink and level changes made through
// Service.Apply on its next event.
//
// The zero value discards everything, so components can hold a Logger
// unconditionally.
type Logger struct {
	svc   *Service
	fixed []Field
}

// Nop returns a logger that discards every event.
func Nop() Logger { return Logger{} }

// IsZero reports whether the logger was never wired to a service.
func (l Logger) IsZero() bool { return l.svc == nil && len(l.fixed) == 0 }

// With returns a logger that adds fields to every event it emits.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	merged := make([]Field, 0, len(l.fixed)+len(fields))
	merged = append(merged, l.fixed...)
	merged = append(merged, fields...)
	return Logger{svc: l.svc, fixed: merged}
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(zerolog.TraceLevel, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(lvl zerolog.Level, msg string, fields []Field) {
	if l.svc == nil {
		return
	}
	root := l.svc.root()
	e := root.WithLevel(lvl)
	if e == nil {
		return
	}
	// Short caller (file:line); full paths and function names are noise.
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	apply(e, l.fixed)
	apply(e, fields)
	e.Msg(msg)
}

func apply(e *zerolog.Event, fields []Field) {
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
}

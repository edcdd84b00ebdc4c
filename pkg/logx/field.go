package logx

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// A Field adds one typed attribute to a log event. Fields are closures over
// zerolog's setters: attributes stay structured in the JSON sink and render
// as key=value on the console.
type Field func(*zerolog.Event)

func String(key, val string) Field          { return func(e *zerolog.Event) { e.Str(key, val) } }
func Int(key string, val int) Field         { return func(e *zerolog.Event) { e.Int(key, val) } }
func Int64(key string, val int64) Field     { return func(e *zerolog.Event) { e.Int64(key, val) } }
func Uint32(key string, val uint32) Field   { return func(e *zerolog.Event) { e.Uint32(key, val) } }
func Bool(key string, val bool) Field       { return func(e *zerolog.Event) { e.Bool(key, val) } }
func Float64(key string, val float64) Field { return func(e *zerolog.Event) { e.Float64(key, val) } }
func Time(key string, val time.Time) Field  { return func(e *zerolog.Event) { e.Time(key, val) } }
func Any(key string, val any) Field         { return func(e *zerolog.Event) { e.Interface(key, val) } }

func Duration(key string, val time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(key, val) }
}

// Err records err under the standard error key. A nil err adds nothing.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Stack attaches a captured stack trace, usually string(debug.Stack()).
func Stack(trace string) Field {
	return func(e *zerolog.Event) {
		if strings.TrimSpace(trace) != "" {
			e.Str("stack", trace)
		}
	}
}

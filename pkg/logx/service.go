package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config selects the level and the sink set. Sinks combine: console output
// for humans, an append-only JSON file for collection. With neither
// enabled the console sink is used anyway.
type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

// FileConfig points the JSON sink at a file. An empty path falls back to
// ./padbridge.log.
type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the sinks. Apply may be called at any time; loggers handed
// out earlier write to the new sinks on their next event.
type Service struct {
	mu   sync.Mutex
	live atomic.Pointer[zerolog.Logger]
	file *os.File
}

var globalsOnce sync.Once

// New builds the service and applies cfg. The returned Logger is the root;
// derive per-component loggers from it with With.
func New(cfg Config) (*Service, Logger) {
	globalsOnce.Do(func() {
		zerolog.TimeFieldFormat = timeFormat
		zerolog.ErrorFieldName = "err"
	})

	s := &Service{}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

// Logger returns a logger bound to this service.
func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) root() zerolog.Logger {
	if zl := s.live.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply rebuilds the sinks from cfg and swaps them in atomically. A file
// sink that fails to open is reported on stderr and skipped; the rest of
// the config still applies.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat})
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat})
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level)).
		With().Timestamp().Logger()
	s.live.Store(&zl)
}

// Close releases the file sink, if any.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	if f != nil {
		return f.Close()
	}
	return nil
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "./padbridge.log"
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

// parseLevel maps a config string to a zerolog level, defaulting to info.
func parseLevel(s string) zerolog.Level {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "":
		return zerolog.InfoLevel
	case "warning":
		return zerolog.WarnLevel
	default:
		lvl, err := zerolog.ParseLevel(v)
		if err != nil {
			return zerolog.InfoLevel
		}
		return lvl
	}
}

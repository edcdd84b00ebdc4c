package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"padbridge/pkg/logx"
)

// ConfigManager owns the on-disk configuration lifecycle: strict parsing,
// the committed live copy, and fan-out to subscribers when Watch picks up
// a valid change.
type ConfigManager struct {
	path string

	mu      sync.RWMutex
	current *Config
	lastSum uint64

	// subMu guards the subscriber set and orders sends against Unsubscribe,
	// so publish never writes to a closed channel.
	subMu sync.Mutex
	subs  map[chan *Config]struct{}

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path: path,
		subs: make(map[chan *Config]struct{}),
	}
}

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a hook Watch consults before committing a change.
// A rejected file keeps the previous config live.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and strictly decodes the config file without committing it.
// YAML files are coerced to JSON first so one decoder enforces the schema
// for both formats. Unknown fields and trailing documents are errors; the
// result comes back normalized, with defaults filled and ranges clamped.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	doc, err := toJSON(m.path, raw)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	switch err := dec.Decode(new(any)); err {
	case io.EOF:
	case nil:
		return nil, fmt.Errorf("%s: more than one document", m.path)
	default:
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Commit makes cfg the live config and remembers its checksum so Watch
// can skip spurious rewrites with identical content.
func (m *ConfigManager) Commit(cfg *Config) {
	m.mu.Lock()
	m.current = cfg
	m.lastSum = checksum(cfg)
	m.mu.Unlock()
}

// Load is Parse followed by Commit.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

// Get returns the committed config, nil before the first Load.
func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe registers a channel that receives every committed change.
// The buffer is at least one so a slow subscriber still ends up with the
// latest config rather than none.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes ch and closes it. Unknown channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

// publish pushes cfg to every subscriber without blocking. When a buffer
// is full the oldest queued config is dropped in favor of the newest; a
// subscriber that reads at all always sees the latest committed state.
func (m *ConfigManager) publish(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("subscriber lagging; config update dropped",
				logx.Int("queued", len(ch)),
				logx.Int("capacity", cap(ch)))
		}
	}
}

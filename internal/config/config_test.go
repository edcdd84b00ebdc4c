package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseFillsDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{}`)
	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Scheduler.Capacity != 32 {
		t.Fatalf("Scheduler.Capacity = %d, want 32", cfg.Scheduler.Capacity)
	}
	if cfg.Input.Period != "10ms" || cfg.Output.Period != "20ms" {
		t.Fatalf("periods = %q/%q, want 10ms/20ms", cfg.Input.Period, cfg.Output.Period)
	}
	if cfg.Input.Deadzone != 1000 {
		t.Fatalf("Input.Deadzone = %d, want 1000", cfg.Input.Deadzone)
	}
	if cfg.Control.DefaultMode != "car" || cfg.Control.StrongTurn != 500 {
		t.Fatalf("Control = %q/%d, want car/500", cfg.Control.DefaultMode, cfg.Control.StrongTurn)
	}
	if cfg.Telemetry.Addr != "127.0.0.1:9090" {
		t.Fatalf("Telemetry.Addr = %q, want 127.0.0.1:9090", cfg.Telemetry.Addr)
	}
	if !cfg.Monitor.WatchdogEnabled() {
		t.Fatal("watchdog should default to enabled")
	}
	if cfg.Jobs.Snapshot == "" || cfg.Jobs.Prune == "" || cfg.Jobs.Report == "" {
		t.Fatalf("Jobs = %+v, want all specs defaulted", cfg.Jobs)
	}
	if cfg.Storage != nil {
		t.Fatalf("Storage = %+v, want nil (disabled)", cfg.Storage)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{"schedular": {"capacity": 8}}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("Parse accepted an unknown top-level key")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{} {"again": true}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("Parse accepted concatenated JSON documents")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	body := `
logging:
  level: debug
scheduler:
  capacity: 8
control:
  default_mode: plane
`
	path := writeConfig(t, "config.yaml", body)
	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Scheduler.Capacity != 8 {
		t.Fatalf("Scheduler.Capacity = %d, want 8", cfg.Scheduler.Capacity)
	}
	if cfg.Control.DefaultMode != "plane" {
		t.Fatalf("Control.DefaultMode = %q, want plane", cfg.Control.DefaultMode)
	}
}

func TestNormalizeRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantSub string
	}{
		{
			name:    "bad tick duration",
			cfg:     Config{Scheduler: SchedulerConfig{Tick: "fast"}},
			wantSub: "scheduler.tick",
		},
		{
			name:    "negative input period",
			cfg:     Config{Input: InputConfig{Period: "-10ms"}},
			wantSub: "input.period",
		},
		{
			name:    "unknown mode",
			cfg:     Config{Control: ControlConfig{DefaultMode: "hover"}},
			wantSub: "default_mode",
		},
		{
			name:    "negative pprof rate",
			cfg:     Config{Pprof: PprofConfig{BlockProfileRate: -1}},
			wantSub: "block_profile_rate",
		},
		{
			name:    "unknown storage driver",
			cfg:     Config{Storage: &StorageConfig{Driver: "bolt"}},
			wantSub: "storage.driver",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Normalize()
			if err == nil {
				t.Fatal("Normalize accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestNormalizeClamps(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Scheduler: SchedulerConfig{Capacity: 100000},
		Input:     InputConfig{Deadzone: 99999},
		Control:   ControlConfig{StrongTurn: 5000},
		Monitor:   MonitorConfig{ErrorRing: 1 << 20},
	}
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Scheduler.Capacity != 1024 {
		t.Fatalf("Capacity = %d, want 1024", cfg.Scheduler.Capacity)
	}
	if cfg.Input.Deadzone != 32767 {
		t.Fatalf("Deadzone = %d, want 32767", cfg.Input.Deadzone)
	}
	if cfg.Control.StrongTurn != 1000 {
		t.Fatalf("StrongTurn = %d, want 1000", cfg.Control.StrongTurn)
	}
	if cfg.Monitor.ErrorRing != 4096 {
		t.Fatalf("ErrorRing = %d, want 4096", cfg.Monitor.ErrorRing)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty means zero", raw: "", want: 0},
		{name: "spaces mean zero", raw: "   ", want: 0},
		{name: "valid", raw: "250ms", want: 250 * time.Millisecond},
		{name: "junk", raw: "fast", wantErr: true},
		{name: "negative", raw: "-1s", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDurationField("x.y", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDurationField(%q) = nil error, want error", tt.raw)
				}
				if !strings.Contains(err.Error(), "x.y") {
					t.Fatalf("error %q does not name the field path", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDurationField(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{}
	if err := oldCfg.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	newCfg := &Config{}
	if err := newCfg.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	newCfg.Logging.Level = "debug"
	newCfg.Pprof.Enabled = true
	newCfg.Storage = &StorageConfig{Driver: "file", Path: "/tmp/x", Retention: "24h"}

	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"logging", "pprof", "storage"}
	if len(sections) != len(want) {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	for i := range want {
		if sections[i] != want[i] {
			t.Fatalf("sections = %v, want %v (sorted)", sections, want)
		}
	}
	if len(attrs) == 0 {
		t.Fatal("expected structured attrs for changed sections")
	}

	same, sameAttrs := SummarizeConfigChange(oldCfg, oldCfg)
	if len(same) != 0 || len(sameAttrs) != 0 {
		t.Fatalf("identical configs produced diff %v", same)
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	sub := m.Subscribe(1)

	first := &Config{Logging: LoggingConfig{Level: "warn"}}
	second := &Config{Logging: LoggingConfig{Level: "debug"}}
	m.publish(first)
	m.publish(second) // buffer full: oldest dropped, newest delivered

	select {
	case got := <-sub:
		if got != second {
			t.Fatalf("received level %q, want the latest publish", got.Logging.Level)
		}
	default:
		t.Fatal("no config delivered")
	}

	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("subscription channel still open after Unsubscribe")
	}
}

func TestWatchPublishesOnlyValidChanges(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{"logging": {"level": "info"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Logging.Level == "trace" {
			return errors.New("trace refused")
		}
		return nil
	})

	sub := m.Subscribe(2)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Let the watcher arm before the first rewrite.
	time.Sleep(300 * time.Millisecond)

	// A parse failure, then a validator rejection, then a good change.
	// Only the last one may come out of the subscription.
	steps := []string{
		`{"logging": {"level":`,
		`{"logging": {"level": "trace"}}`,
		`{"logging": {"level": "debug"}}`,
	}
	for _, body := range steps {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("rewrite config: %v", err)
		}
		// Past the 250ms debounce so each write is handled on its own.
		time.Sleep(500 * time.Millisecond)
	}

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("first published level = %q, want debug (invalid writes must not publish)", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("valid change was never published")
	}

	if got := m.Get().Logging.Level; got != "debug" {
		t.Fatalf("committed level = %q, want debug", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch returned %v on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}

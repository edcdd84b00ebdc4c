package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"padbridge/internal/eventbus"
	"padbridge/pkg/logx"
)

func openFileStore(t *testing.T, cfg Config) Store {
	t.Helper()
	cfg.Driver = "file"
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "padbridge.db")
	}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDispatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantNil bool
		wantErr bool
	}{
		{name: "empty driver disables", cfg: Config{}, wantNil: true},
		{name: "none disables", cfg: Config{Driver: "none"}, wantNil: true},
		{name: "unknown driver", cfg: Config{Driver: "bolt"}, wantErr: true},
		{name: "file needs path", cfg: Config{Driver: "file"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := Open(tt.cfg, logx.Nop())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Open(%+v) = nil error, want error", tt.cfg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open(%+v): %v", tt.cfg, err)
			}
			if tt.wantNil && st != nil {
				t.Fatalf("Open(%+v) = %v, want nil store", tt.cfg, st)
			}
		})
	}
}

func TestFileStoreEventRoundTrip(t *testing.T) {
	t.Parallel()

	st := openFileStore(t, Config{})
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		e := EventRecord{
			At:      base.Add(time.Duration(i) * time.Second),
			Kind:    KindConnection,
			Subject: fmt.Sprintf("session-%d", i),
			Detail:  "opened",
		}
		if err := st.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent %d: %v", i, err)
		}
	}

	got, err := st.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("RecentEvents returned %d records, want 3", len(got))
	}
	for i, e := range got {
		if e.Subject != fmt.Sprintf("session-%d", i) {
			t.Fatalf("record %d subject = %q, want session-%d", i, e.Subject, i)
		}
		if !e.At.Equal(base.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("record %d timestamp = %v, want %v", i, e.At, base.Add(time.Duration(i)*time.Second))
		}
	}

	newest, err := st.RecentEvents(ctx, 2)
	if err != nil {
		t.Fatalf("RecentEvents(2): %v", err)
	}
	if len(newest) != 2 || newest[0].Subject != "session-1" || newest[1].Subject != "session-2" {
		t.Fatalf("RecentEvents(2) = %+v, want the newest two in order", newest)
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := st.RecentEvents(ctx, 1); err == nil {
		t.Fatal("RecentEvents after Close = nil error, want error")
	}
}

func TestFileStoreCompactsAtCap(t *testing.T) {
	t.Parallel()

	st := openFileStore(t, Config{MaxBytes: 400})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		e := EventRecord{Kind: KindModeSwitch, Subject: fmt.Sprintf("evt-%02d", i)}
		if err := st.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent %d: %v", i, err)
		}
	}

	got, err := st.RecentEvents(ctx, 100)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(got) == 0 || len(got) >= 50 {
		t.Fatalf("after compaction %d records remain, want some but not all", len(got))
	}
	if last := got[len(got)-1].Subject; last != "evt-49" {
		t.Fatalf("newest surviving record = %q, want evt-49", last)
	}
	if first := got[0].Subject; first == "evt-00" {
		t.Fatal("oldest record survived compaction")
	}
}

func TestFileStorePruneDropsOldRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openFileStore(t, Config{Path: filepath.Join(dir, "padbridge.db"), Retention: time.Hour})
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	if err := st.AppendEvent(ctx, EventRecord{At: old, Kind: KindConnection, Subject: "stale"}); err != nil {
		t.Fatalf("AppendEvent old: %v", err)
	}
	if err := st.AppendEvent(ctx, EventRecord{Kind: KindConnection, Subject: "fresh"}); err != nil {
		t.Fatalf("AppendEvent fresh: %v", err)
	}
	if err := st.AppendSnapshot(ctx, StatsSnapshot{At: old, Active: 1}); err != nil {
		t.Fatalf("AppendSnapshot old: %v", err)
	}
	if err := st.AppendSnapshot(ctx, StatsSnapshot{Active: 2}); err != nil {
		t.Fatalf("AppendSnapshot fresh: %v", err)
	}

	// keep <= 0 falls back to the configured retention.
	if err := st.Prune(ctx, 0); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	got, err := st.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(got) != 1 || got[0].Subject != "fresh" {
		t.Fatalf("after prune events = %+v, want only the fresh one", got)
	}

	lines, err := readLines(filepath.Join(dir, "padbridge.stats.jsonl"))
	if err != nil {
		t.Fatalf("readLines: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("after prune %d snapshot lines remain, want 1", len(lines))
	}
}

func TestRecorderPersistsBusTraffic(t *testing.T) {
	t.Parallel()

	st := openFileStore(t, Config{})
	bus := eventbus.New()
	rec := NewRecorder(st, bus, logx.Nop())

	// The subscription is taken in NewRecorder, so traffic published
	// before Run starts must still land in the archive.
	bus.Publish(eventbus.Event{Type: "bridge.session.opened", Data: map[string]any{"session": "s1"}})
	bus.Publish(eventbus.Event{Type: "bridge.mode.switched", Data: map[string]any{"from": "car", "to": "plane"}})
	bus.Publish(eventbus.Event{Type: "sched.task.created", Data: map[string]any{"task": "ignored"}})
	bus.Publish(eventbus.Event{Type: "sched.task.failed", Data: map[string]any{"task": "control_output", "error": "boom"}})
	bus.Publish(eventbus.Event{Type: "bridge.session.closed", Data: map[string]any{"session": "s1", "reason": "timeout"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	var got []EventRecord
	for time.Now().Before(deadline) {
		var err error
		got, err = st.RecentEvents(ctx, 10)
		if err != nil {
			t.Fatalf("RecentEvents: %v", err)
		}
		if len(got) >= 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(got) != 4 {
		t.Fatalf("recorded %d events, want 4", len(got))
	}

	want := []EventRecord{
		{Kind: KindConnection, Subject: "s1", Detail: "opened"},
		{Kind: KindModeSwitch, Subject: "plane", Detail: "car to plane"},
		{Kind: KindTaskFailure, Subject: "control_output", Detail: "boom"},
		{Kind: KindConnection, Subject: "s1", Detail: "closed: timeout"},
	}
	for i, w := range want {
		if got[i].Kind != w.Kind || got[i].Subject != w.Subject || got[i].Detail != w.Detail {
			t.Fatalf("record %d = %+v, want %+v", i, got[i], w)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}

	if err := NewRecorder(nil, bus, logx.Nop()).Run(context.Background()); err == nil {
		t.Fatal("Run without a store = nil error, want error")
	}
}

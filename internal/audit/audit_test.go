package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"schedkit/internal/eventbus"
	"schedkit/internal/sched"
	logx "schedkit/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "NONE", " none "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q) error: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) returned a store, want nil", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("Open accepted unknown driver")
	}
}

func TestFileStoreRoundtrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	testStoreRoundtrip(t, st)
}

func TestSQLiteStoreRoundtrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	testStoreRoundtrip(t, st)
}

func testStoreRoundtrip(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	entries := []RunEntry{
		{At: base, Task: "backup", Trigger: "timer", Outcome: "completed", TookMS: 120},
		{At: base.Add(time.Minute), Task: "backup", Trigger: "timer", Outcome: "failed", Error: "disk full", TookMS: 40},
		{At: base.Add(2 * time.Minute), Task: "report", Trigger: "manual", Outcome: "completed", TookMS: 5},
	}
	for _, e := range entries {
		if err := st.AppendRun(ctx, e); err != nil {
			t.Fatalf("AppendRun error: %v", err)
		}
	}

	all, err := st.RecentRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentRuns error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d entries, want 3", len(all))
	}
	// Newest first.
	if all[0].Task != "report" || all[2].Task != "backup" {
		t.Fatalf("order wrong: %+v", all)
	}

	backup, err := st.RecentRuns(ctx, "backup", 10)
	if err != nil {
		t.Fatalf("RecentRuns(backup) error: %v", err)
	}
	if len(backup) != 2 {
		t.Fatalf("got %d backup entries, want 2", len(backup))
	}
	if backup[0].Outcome != "failed" || backup[0].Error != "disk full" {
		t.Fatalf("newest backup entry = %+v", backup[0])
	}

	limited, err := st.RecentRuns(ctx, "", 1)
	if err != nil {
		t.Fatalf("RecentRuns(limit=1) error: %v", err)
	}
	if len(limited) != 1 || limited[0].Task != "report" {
		t.Fatalf("limited = %+v", limited)
	}
}

func TestRecorderMapsEvents(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	r := NewRecorder(st, logx.Nop())
	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	r.record(eventbus.Event{
		Type: eventbus.TypeTaskFailed,
		Task: "sync",
		Data: sched.TaskEvent{ID: "sync", Trigger: "timer", Started: started, Duration: 250 * time.Millisecond, Error: "timeout"},
	})
	r.record(eventbus.Event{
		Type: eventbus.TypeTaskSkipped,
		Task: "sync",
		Data: sched.TaskEvent{ID: "sync", Trigger: "timer", Reason: "circuit_open"},
	})
	// Lifecycle noise is not recorded.
	r.record(eventbus.Event{Type: eventbus.TypeTaskRegistered, Task: "sync"})
	r.record(eventbus.Event{Type: eventbus.TypeTaskStarted, Task: "sync"})

	got, err := st.RecentRuns(context.Background(), "sync", 10)
	if err != nil {
		t.Fatalf("RecentRuns error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(got), got)
	}
	if got[0].Outcome != "skipped" || got[0].Reason != "circuit_open" {
		t.Fatalf("skip entry = %+v", got[0])
	}
	if got[1].Outcome != "failed" || got[1].Error != "timeout" || got[1].TookMS != 250 {
		t.Fatalf("failure entry = %+v", got[1])
	}
	if !got[1].At.Equal(started) {
		t.Fatalf("At = %v, want %v", got[1].At, started)
	}
}

func TestRecorderRunDrainsBus(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer st.Close()

	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewRecorder(st, logx.Nop()).Run(ctx, bus)
		close(done)
	}()

	// Give the subscriber time to attach, then publish.
	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.Publish(eventbus.Event{
			Type: eventbus.TypeTaskCompleted,
			Task: "ping",
			Data: sched.TaskEvent{ID: "ping", Trigger: "manual"},
		})
		got, err := st.RecentRuns(context.Background(), "ping", 1)
		if err != nil {
			t.Fatalf("RecentRuns error: %v", err)
		}
		if len(got) == 1 && got[0].Outcome == "completed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("recorder never persisted the event")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop on ctx cancel")
	}
}

func TestOutcomeLabel(t *testing.T) {
	t.Parallel()
	if got := OutcomeLabel("completed", ""); got != "completed" {
		t.Fatalf("got %q", got)
	}
	if got := OutcomeLabel("skipped", "overlap"); got != "skipped:overlap" {
		t.Fatalf("got %q", got)
	}
}

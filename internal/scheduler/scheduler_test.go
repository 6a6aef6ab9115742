package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/chinaperrin/shaked/internal/config"
	"github.com/chinaperrin/shaked/internal/event"
	"github.com/chinaperrin/shaked/internal/handler"
	"github.com/chinaperrin/shaked/internal/supervisor"
)

type fakeHandler struct {
	mu      sync.Mutex
	records map[string]*event.Record
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{records: make(map[string]*event.Record)}
}

func (f *fakeHandler) GetEvent(_ context.Context, id string) (*event.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (f *fakeHandler) InsertEvent(_ context.Context, r *event.Record, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[r.ID] = r.Clone()
	return nil
}

func (f *fakeHandler) DeleteEvent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeHandler) GetRepeats(context.Context) ([]handler.RepeatEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []handler.RepeatEntry
	for id, r := range f.records {
		if len(r.Repeats) == 0 {
			continue
		}
		out = append(out, handler.RepeatEntry{ID: id, Repeats: append([]int64(nil), r.Repeats...)})
	}
	return out, nil
}

func (f *fakeHandler) AssociateAll(context.Context) ([]string, error)    { return nil, nil }
func (f *fakeHandler) CleanAmps(context.Context, time.Duration) error    { return nil }
func (f *fakeHandler) CleanEvents(context.Context, time.Duration) error  { return nil }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{DataRoot: t.TempDir(), ShakeExecutable: "/bin/true"}
}

func TestTickDispatchesDueRepeatAndPopsHead(t *testing.T) {
	h := newFakeHandler()
	sup := supervisor.New(testLogger())
	cfg := testConfig(t)
	s := New(h, sup, cfg, testLogger())
	ctx := context.Background()

	now := time.Now()
	r := &event.Record{ID: "e1", Time: now.Format(event.TimeLayoutPrimary), Magnitude: 6, Repeats: []int64{now.Add(-time.Second).Unix(), now.Add(time.Hour).Unix()}}
	if err := h.InsertEvent(ctx, r, false); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, err := h.GetEvent(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if len(got.Repeats) != 1 {
		t.Fatalf("expected only the due head popped, got %v", got.Repeats)
	}
	if got.LastRun == nil {
		t.Fatal("expected lastrun set after scheduled dispatch")
	}
	if !sup.Live("e1") {
		t.Fatal("expected child spawned for due repeat")
	}
}

func TestTickSkipsDispatchWhenChildAlreadyLive(t *testing.T) {
	h := newFakeHandler()
	sup := supervisor.New(testLogger())
	cfg := testConfig(t)
	s := New(h, sup, cfg, testLogger())
	ctx := context.Background()

	now := time.Now()
	r := &event.Record{ID: "e2", Time: now.Format(event.TimeLayoutPrimary), Magnitude: 6, Repeats: []int64{now.Add(-time.Second).Unix()}}
	if err := h.InsertEvent(ctx, r, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := sup.Spawn("e2", "origin", supervisor.Config{Executable: "/bin/true"}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	before := sup.Count()

	if err := s.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, err := h.GetEvent(ctx, "e2")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if len(got.Repeats) != 0 {
		t.Fatalf("expected repeats emptied, got %v", got.Repeats)
	}
	if got.LastRun != nil {
		t.Fatal("expected lastrun untouched when popping without dispatch")
	}
	if sup.Count() != before {
		t.Fatal("expected no new child spawned while one is already live")
	}
}

func TestTickIgnoresNotYetDueRepeats(t *testing.T) {
	h := newFakeHandler()
	sup := supervisor.New(testLogger())
	cfg := testConfig(t)
	s := New(h, sup, cfg, testLogger())
	ctx := context.Background()

	now := time.Now()
	r := &event.Record{ID: "e3", Time: now.Format(event.TimeLayoutPrimary), Magnitude: 6, Repeats: []int64{now.Add(time.Hour).Unix()}}
	if err := h.InsertEvent(ctx, r, false); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if sup.Live("e3") {
		t.Fatal("expected no dispatch for a not-yet-due repeat")
	}
}

// TestTickSpawnFailureIsNonFatalAndContinuesScan covers a repeat whose spawn
// fails (missing/unexecutable binary): the scan must log and move on rather
// than aborting, and any other due entry in the same tick must still fire.
func TestTickSpawnFailureIsNonFatalAndContinuesScan(t *testing.T) {
	h := newFakeHandler()
	sup := supervisor.New(testLogger())
	cfg := testConfig(t)
	cfg.ShakeExecutable = "/nonexistent/shake-binary"
	s := New(h, sup, cfg, testLogger())
	ctx := context.Background()

	now := time.Now()
	r4 := &event.Record{ID: "e4", Time: now.Format(event.TimeLayoutPrimary), Magnitude: 6, Repeats: []int64{now.Add(-time.Second).Unix()}}
	r5 := &event.Record{ID: "e5", Time: now.Format(event.TimeLayoutPrimary), Magnitude: 6, Repeats: []int64{now.Add(-time.Second).Unix()}}
	if err := h.InsertEvent(ctx, r4, false); err != nil {
		t.Fatalf("seed e4: %v", err)
	}
	if err := h.InsertEvent(ctx, r5, false); err != nil {
		t.Fatalf("seed e5: %v", err)
	}

	if err := s.Tick(ctx); err != nil {
		t.Fatalf("Tick should absorb spawn failures, not propagate them: %v", err)
	}

	for _, id := range []string{"e4", "e5"} {
		got, err := h.GetEvent(ctx, id)
		if err != nil {
			t.Fatalf("GetEvent(%s): %v", id, err)
		}
		if len(got.Repeats) != 0 {
			t.Fatalf("expected %s's due repeat popped despite spawn failure, got %v", id, got.Repeats)
		}
		if got.LastRun == nil {
			t.Fatalf("expected %s's lastrun set despite spawn failure", id)
		}
	}
}

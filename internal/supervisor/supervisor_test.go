package supervisor

import (
	"io"
	"log/slog"
	"os/exec"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCommand builds a real short-lived OS process (/bin/sleep 0.05) so
// Spawn/Reap/Kill exercise the real exec.Cmd plumbing without depending on
// the external shake binary.
func fakeCommand(name string, args ...string) *exec.Cmd {
	return exec.Command("/bin/sleep", "0.05")
}

func TestSpawnTracksOneChildPerID(t *testing.T) {
	execCommandFn = fakeCommand
	defer func() { execCommandFn = exec.Command }()

	s := New(testLogger())
	if err := s.Spawn("e1", "origin", Config{Executable: "shake"}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !s.Live("e1") {
		t.Fatal("expected e1 to be live after spawn")
	}
	if err := s.Spawn("e1", "origin", Config{Executable: "shake"}); err != nil {
		t.Fatalf("second Spawn should be a no-op, got error: %v", err)
	}
	if s.Count() != 1 {
		t.Fatalf("expected single child for e1, got count=%d", s.Count())
	}
}

func TestReapRemovesExitedChildren(t *testing.T) {
	execCommandFn = fakeCommand
	defer func() { execCommandFn = exec.Command }()

	s := New(testLogger())
	if err := s.Spawn("e2", "origin", Config{Executable: "shake"}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.Reap()
		if !s.Live("e2") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected child to be reaped after exit")
}

func TestKillTerminatesAndUntracks(t *testing.T) {
	execCommandFn = func(name string, args ...string) *exec.Cmd {
		return exec.Command("/bin/sleep", "30")
	}
	defer func() { execCommandFn = exec.Command }()

	s := New(testLogger())
	if err := s.Spawn("e3", "origin", Config{Executable: "shake"}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := s.Kill("e3"); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if s.Live("e3") {
		t.Fatal("expected e3 untracked after Kill")
	}
}

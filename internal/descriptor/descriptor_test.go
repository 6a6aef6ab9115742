package descriptor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chinaperrin/shaked/internal/event"
)

func TestWriteCreatesDescriptorAtomically(t *testing.T) {
	root := t.TempDir()
	r := &event.Record{
		ID:          "e1",
		AltEventIDs: []string{"alt1", "alt2"},
		Time:        "2024-01-01T00:00:00Z",
		Magnitude:   6.1,
		Lon:         -122.1,
		Lat:         37.5,
	}

	if err := Write(root, r); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := filepath.Join(root, "e1", "current", "event.xml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	body := string(data)
	if !strings.Contains(body, "<id>e1</id>") {
		t.Fatalf("missing id in descriptor: %s", body)
	}
	if !strings.Contains(body, "alt1,alt2") {
		t.Fatalf("missing alt_eventids in descriptor: %s", body)
	}

	entries, err := os.ReadDir(filepath.Join(root, "e1", "current"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp") {
			t.Fatalf("leftover temp file: %s", e.Name())
		}
	}
}

func TestWriteRestoresRecordTimeField(t *testing.T) {
	root := t.TempDir()
	r := &event.Record{ID: "e2", Time: "2024-01-01T00:00:00Z", Magnitude: 5}

	if err := Write(root, r); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if r.Time != "2024-01-01T00:00:00Z" {
		t.Fatalf("record time mutated: %s", r.Time)
	}
}

func TestWriteFailsOnUnparseableTime(t *testing.T) {
	root := t.TempDir()
	r := &event.Record{ID: "e3", Time: "not-a-time", Magnitude: 5}

	if err := Write(root, r); err == nil {
		t.Fatal("expected error for unparseable time")
	}
	if _, err := os.Stat(filepath.Join(root, "e3", "current", "event.xml")); !os.IsNotExist(err) {
		t.Fatal("expected no descriptor written on parse failure")
	}
}

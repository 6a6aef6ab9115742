package event

import (
	"testing"
	"time"
)

func TestFromWirePreservesPassthrough(t *testing.T) {
	raw := []byte(`{"id":"e1","mag":6.1,"lon":-120.5,"lat":36.1,"time":"2024-01-01T00:00:00Z","rupture":{"length_km":12.4}}`)
	r, err := FromWire(raw)
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	if r.ID != "e1" || r.Magnitude != 6.1 {
		t.Fatalf("unexpected record: %+v", r)
	}

	out, err := r.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got := string(out); !contains(got, `"length_km":12.4`) {
		t.Fatalf("passthrough field lost, got %s", got)
	}
}

func TestAltEventIDsSplit(t *testing.T) {
	raw := []byte(`{"id":"e2","alt_eventids":"a1, a2,a3"}`)
	r, err := FromWire(raw)
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	want := []string{"a1", "a2", "a3"}
	if len(r.AltEventIDs) != len(want) {
		t.Fatalf("got %v want %v", r.AltEventIDs, want)
	}
	for i, w := range want {
		if r.AltEventIDs[i] != w {
			t.Fatalf("got %v want %v", r.AltEventIDs, want)
		}
	}
}

func TestPruneRepeatsDropsPastEntries(t *testing.T) {
	now := time.Unix(1000, 0)
	r := &Record{Repeats: []int64{500, 900, 1500, 2000}}
	r.PruneRepeats(now)
	if len(r.Repeats) != 2 || r.Repeats[0] != 1500 || r.Repeats[1] != 2000 {
		t.Fatalf("unexpected repeats after prune: %v", r.Repeats)
	}
}

func TestPruneRepeatsEmptiesToNil(t *testing.T) {
	now := time.Unix(1000, 0)
	r := &Record{Repeats: []int64{1, 2, 3}}
	r.PruneRepeats(now)
	if r.Repeats != nil {
		t.Fatalf("expected nil repeats, got %v", r.Repeats)
	}
}

func TestEnsureRepeatWithinInsertsWhenLate(t *testing.T) {
	now := time.Unix(1000, 0)
	r := &Record{Repeats: []int64{2000}}
	r.EnsureRepeatWithin(now, 300*time.Second)
	if len(r.Repeats) != 2 || r.Repeats[0] != 1300 {
		t.Fatalf("expected inserted head at 1300, got %v", r.Repeats)
	}
}

func TestEnsureRepeatWithinNoopWhenAlreadyDue(t *testing.T) {
	now := time.Unix(1000, 0)
	r := &Record{Repeats: []int64{1100}}
	r.EnsureRepeatWithin(now, 300*time.Second)
	if len(r.Repeats) != 1 || r.Repeats[0] != 1100 {
		t.Fatalf("expected unchanged repeats, got %v", r.Repeats)
	}
}

func TestParseOriginTimeFallback(t *testing.T) {
	if _, err := ParseOriginTime("2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("primary layout: %v", err)
	}
	if _, err := ParseOriginTime("2024-01-01 00:00:00.5"); err != nil {
		t.Fatalf("fallback layout: %v", err)
	}
	if _, err := ParseOriginTime("not-a-time"); err == nil {
		t.Fatalf("expected error for garbage input")
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}

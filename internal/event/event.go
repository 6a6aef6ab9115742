// Package event defines the event record and child process record shared
// across the resolver, scheduler, supervisor, and descriptor writer.
package event

import (
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Time layouts accepted for an event's origin time, tried in order.
const (
	TimeLayoutPrimary  = "2006-01-02T15:04:05.999999Z07:00"
	TimeLayoutFallback = "2006-01-02 15:04:05.999999"
)

// ParseOriginTime tries TimeLayoutPrimary then TimeLayoutFallback.
func ParseOriginTime(raw string) (time.Time, error) {
	if t, err := time.Parse(TimeLayoutPrimary, raw); err == nil {
		return t, nil
	}
	return time.Parse(TimeLayoutFallback, raw)
}

// Record is one seismic event as tracked by the daemon. Fields the daemon
// doesn't interpret (rupture descriptors, site-specific metadata, ...) live
// in Extra, a raw JSON object that round-trips verbatim through persistence.
type Record struct {
	ID          string
	AltEventIDs []string
	Time        string // raw origin-time text, as received
	Magnitude   float64
	Lon         float64
	Lat         float64
	Repeats     []int64 // ascending absolute epoch seconds; nil/empty means absent
	LastRun     *int64  // absolute epoch seconds, nil means absent

	Extra []byte // raw JSON object holding all other fields from the wire payload
}

// Clone returns a deep-enough copy for safe mutation (Extra is copied too).
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.AltEventIDs = append([]string(nil), r.AltEventIDs...)
	out.Repeats = append([]int64(nil), r.Repeats...)
	if r.LastRun != nil {
		v := *r.LastRun
		out.LastRun = &v
	}
	out.Extra = append([]byte(nil), r.Extra...)
	return &out
}

// FromWire builds a Record from a decoded "data" object of an incoming
// trigger payload. Known fields are extracted; everything else is retained
// in Extra.
func FromWire(raw []byte) (*Record, error) {
	r := &Record{Extra: append([]byte(nil), raw...)}

	id := gjson.GetBytes(raw, "id")
	r.ID = id.String()

	if alt := gjson.GetBytes(raw, "alt_eventids"); alt.Exists() && alt.String() != "" {
		for _, a := range strings.Split(alt.String(), ",") {
			a = strings.TrimSpace(a)
			if a != "" {
				r.AltEventIDs = append(r.AltEventIDs, a)
			}
		}
	}

	if t := gjson.GetBytes(raw, "time"); t.Exists() {
		r.Time = t.String()
	}
	if m := gjson.GetBytes(raw, "mag"); m.Exists() {
		r.Magnitude = m.Float()
	}
	if lon := gjson.GetBytes(raw, "lon"); lon.Exists() {
		r.Lon = lon.Float()
	}
	if lat := gjson.GetBytes(raw, "lat"); lat.Exists() {
		r.Lat = lat.Float()
	}
	if repeats := gjson.GetBytes(raw, "repeats"); repeats.IsArray() {
		for _, v := range repeats.Array() {
			r.Repeats = append(r.Repeats, v.Int())
		}
	}
	if lastrun := gjson.GetBytes(raw, "lastrun"); lastrun.Exists() {
		v := lastrun.Int()
		r.LastRun = &v
	}

	return r, nil
}

// Action returns the optional per-trigger action override carried in Extra.
func (r *Record) Action() (string, bool) {
	v := gjson.GetBytes(r.Extra, "action")
	if !v.Exists() {
		return "", false
	}
	return v.String(), true
}

// Marshal re-serializes the record, writing the typed fields back into the
// Extra bag so passthrough data survives alongside current schedule/lastrun
// state. The result is the canonical persisted form.
func (r *Record) Marshal() ([]byte, error) {
	raw := r.Extra
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var err error
	raw, err = sjson.SetBytes(raw, "id", r.ID)
	if err != nil {
		return nil, err
	}
	raw, err = sjson.SetBytes(raw, "mag", r.Magnitude)
	if err != nil {
		return nil, err
	}
	raw, err = sjson.SetBytes(raw, "lon", r.Lon)
	if err != nil {
		return nil, err
	}
	raw, err = sjson.SetBytes(raw, "lat", r.Lat)
	if err != nil {
		return nil, err
	}
	raw, err = sjson.SetBytes(raw, "time", r.Time)
	if err != nil {
		return nil, err
	}
	if len(r.AltEventIDs) > 0 {
		raw, err = sjson.SetBytes(raw, "alt_eventids", strings.Join(r.AltEventIDs, ","))
		if err != nil {
			return nil, err
		}
	} else {
		raw, _ = sjson.DeleteBytes(raw, "alt_eventids")
	}
	if len(r.Repeats) > 0 {
		raw, err = sjson.SetBytes(raw, "repeats", r.Repeats)
		if err != nil {
			return nil, err
		}
	} else {
		raw, _ = sjson.DeleteBytes(raw, "repeats")
	}
	if r.LastRun != nil {
		raw, err = sjson.SetBytes(raw, "lastrun", *r.LastRun)
		if err != nil {
			return nil, err
		}
	} else {
		raw, _ = sjson.DeleteBytes(raw, "lastrun")
	}
	return raw, nil
}

// PruneRepeats drops entries <= now, leaving Repeats nil when nothing
// remains, and sorts what is kept ascending.
func (r *Record) PruneRepeats(now time.Time) {
	nowSec := now.Unix()
	kept := r.Repeats[:0:0]
	for _, t := range r.Repeats {
		if t > nowSec {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		r.Repeats = nil
		return
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i] < kept[j] })
	r.Repeats = kept
}

// EnsureRepeatWithin makes sure Repeats has a head entry no later than
// now+within. It either inserts a new head (when empty or the current head
// is later) or leaves the schedule untouched (when already due sooner).
func (r *Record) EnsureRepeatWithin(now time.Time, within time.Duration) {
	deadline := now.Add(within).Unix()
	if len(r.Repeats) == 0 {
		r.Repeats = []int64{deadline}
		return
	}
	if r.Repeats[0] > deadline {
		r.Repeats = append([]int64{deadline}, r.Repeats...)
	}
}

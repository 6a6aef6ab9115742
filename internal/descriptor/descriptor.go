// Package descriptor writes the per-event descriptor file the external
// map-generation executable reads on startup: temp file, fsync, rename
// within the target directory.
package descriptor

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chinaperrin/shaked/internal/event"
)

// descriptorXML is the on-disk shape of event.xml. Field order matches what
// the external executable expects to find.
type descriptorXML struct {
	XMLName     xml.Name `xml:"event"`
	ID          string   `xml:"id"`
	AltEventIDs string   `xml:"alt_eventids,omitempty"`
	OriginTime  string   `xml:"origin_time"`
	Magnitude   float64  `xml:"magnitude"`
	Lon         float64  `xml:"lon"`
	Lat         float64  `xml:"lat"`
}

// timeOutputLayout is the serialized form written into the descriptor,
// distinct from either accepted input layout.
const timeOutputLayout = "2006-01-02T15:04:05Z07:00"

// Write ensures <dataRoot>/<id>/current/ exists and (re)writes event.xml for
// r. The write is atomic: temp file in the same directory, fsync, rename.
// r.Time is restored to its original string value before returning, even on
// success, since parsing is only needed for serialization.
func Write(dataRoot string, r *event.Record) (err error) {
	originalTime := r.Time
	defer func() { r.Time = originalTime }()

	t, perr := event.ParseOriginTime(r.Time)
	if perr != nil {
		return fmt.Errorf("write descriptor for %s: parse origin time %q: %w", r.ID, r.Time, perr)
	}

	dir := filepath.Join(dataRoot, r.ID, "current")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write descriptor for %s: mkdir %s: %w", r.ID, dir, err)
	}

	doc := descriptorXML{
		ID:         r.ID,
		OriginTime: t.Format(timeOutputLayout),
		Magnitude:  r.Magnitude,
		Lon:        r.Lon,
		Lat:        r.Lat,
	}
	if len(r.AltEventIDs) > 0 {
		doc.AltEventIDs = joinAlts(r.AltEventIDs)
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("write descriptor for %s: marshal: %w", r.ID, err)
	}
	body = append([]byte(xml.Header), body...)

	target := filepath.Join(dir, "event.xml")
	return writeAtomic(dir, target, body)
}

func joinAlts(ids []string) string {
	out := ids[0]
	for _, id := range ids[1:] {
		out += "," + id
	}
	return out
}

// writeAtomic writes data to target via a temp file in dir, fsync, rename.
func writeAtomic(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "event-*.xml.tmp")
	if err != nil {
		return fmt.Errorf("create temp descriptor: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp descriptor: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp descriptor: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp descriptor into place: %w", err)
	}
	return nil
}

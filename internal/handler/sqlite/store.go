// Package sqlite is the reference implementation of the handler.Handler
// contract, backed by SQLite via ncruces/go-sqlite3 (a pure-Go, wazero-hosted
// driver, matching the daemon's preference for dependency-free deployment).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/chinaperrin/shaked/internal/event"
	"github.com/chinaperrin/shaked/internal/handler"
)

// Store is a handler.Handler backed by a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the event+amplitude database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single control thread; avoid SQLITE_BUSY from overlap
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) GetEvent(ctx context.Context, id string) (*event.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload, repeats, lastrun FROM events WHERE id = ?`, id)

	var payload, repeatsJSON string
	var lastrun sql.NullInt64
	if err := row.Scan(&payload, &repeatsJSON, &lastrun); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}

	r, err := event.FromWire([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("decode stored event %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(repeatsJSON), &r.Repeats); err != nil {
		return nil, fmt.Errorf("decode repeats for %s: %w", id, err)
	}
	if lastrun.Valid {
		v := lastrun.Int64
		r.LastRun = &v
	}
	return r, nil
}

func (s *Store) InsertEvent(ctx context.Context, r *event.Record, _ bool) error {
	originTime, err := event.ParseOriginTime(r.Time)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", r.ID, err)
	}

	payload, err := r.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", r.ID, err)
	}
	// An absent schedule is stored as '[]' (the column default), which is
	// what GetRepeats and CleanEvents test for; a nil slice would marshal
	// as 'null'.
	repeats := r.Repeats
	if repeats == nil {
		repeats = []int64{}
	}
	repeatsJSON, err := json.Marshal(repeats)
	if err != nil {
		return fmt.Errorf("marshal repeats for %s: %w", r.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, origin_time, magnitude, lon, lat, lastrun, repeats, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			origin_time = excluded.origin_time,
			magnitude   = excluded.magnitude,
			lon         = excluded.lon,
			lat         = excluded.lat,
			lastrun     = excluded.lastrun,
			repeats     = excluded.repeats,
			payload     = excluded.payload
	`, r.ID, originTime.Unix(), r.Magnitude, r.Lon, r.Lat, r.LastRun, string(repeatsJSON), string(payload))
	if err != nil {
		return fmt.Errorf("insert event %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetRepeats(ctx context.Context) ([]handler.RepeatEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, origin_time, repeats FROM events WHERE repeats != '[]'`)
	if err != nil {
		return nil, fmt.Errorf("get repeats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []handler.RepeatEntry
	for rows.Next() {
		var id string
		var originSec int64
		var repeatsJSON string
		if err := rows.Scan(&id, &originSec, &repeatsJSON); err != nil {
			return nil, fmt.Errorf("scan repeat row: %w", err)
		}
		var repeats []int64
		if err := json.Unmarshal([]byte(repeatsJSON), &repeats); err != nil {
			return nil, fmt.Errorf("decode repeats for %s: %w", id, err)
		}
		if len(repeats) == 0 {
			continue
		}
		out = append(out, handler.RepeatEntry{
			ID:         id,
			OriginTime: time.Unix(originSec, 0).UTC(),
			Repeats:    repeats,
		})
	}
	return out, rows.Err()
}

// associationWindow bounds the naive nearest-event amplitude association
// below; a production associator would consult travel time tables, but the
// core's contract only needs a real implementation to exercise the
// reference handler end to end.
const associationWindow = 10 * time.Minute

func (s *Store) AssociateAll(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, observed_at FROM amplitudes WHERE event_id IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("associate: list unassociated amplitudes: %w", err)
	}
	type amp struct {
		id         int64
		observedAt int64
	}
	var amps []amp
	for rows.Next() {
		var a amp
		if err := rows.Scan(&a.id, &a.observedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("associate: scan amplitude: %w", err)
		}
		amps = append(amps, a)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	touched := map[string]bool{}
	for _, a := range amps {
		lo := a.observedAt - int64(associationWindow.Seconds())
		hi := a.observedAt + int64(associationWindow.Seconds())
		row := s.db.QueryRowContext(ctx, `
			SELECT id FROM events
			WHERE origin_time BETWEEN ? AND ?
			ORDER BY ABS(origin_time - ?) ASC
			LIMIT 1
		`, lo, hi, a.observedAt)

		var eventID string
		if err := row.Scan(&eventID); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, fmt.Errorf("associate: find candidate event: %w", err)
		}

		if _, err := s.db.ExecContext(ctx, `UPDATE amplitudes SET event_id = ? WHERE id = ?`, eventID, a.id); err != nil {
			return nil, fmt.Errorf("associate: update amplitude %d: %w", a.id, err)
		}
		touched[eventID] = true
	}

	out := make([]string, 0, len(touched))
	for id := range touched {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) CleanAmps(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).Unix()
	_, err := s.db.ExecContext(ctx, `DELETE FROM amplitudes WHERE observed_at < ? AND event_id IS NULL`, cutoff)
	if err != nil {
		return fmt.Errorf("clean amplitudes: %w", err)
	}
	return nil
}

func (s *Store) CleanEvents(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).Unix()
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE origin_time < ? AND repeats = '[]'`, cutoff)
	if err != nil {
		return fmt.Errorf("clean events: %w", err)
	}
	return nil
}

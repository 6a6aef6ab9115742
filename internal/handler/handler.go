// Package handler defines the event+amplitude database contract the core
// depends on but does not implement: callers outside this package supply any
// type satisfying Handler, the reference being internal/handler/sqlite.
package handler

import (
	"context"
	"time"

	"github.com/chinaperrin/shaked/internal/event"
)

// RepeatEntry is one row of the (id, origin_time, repeat_list) triples
// GetRepeats returns.
type RepeatEntry struct {
	ID         string
	OriginTime time.Time
	Repeats    []int64
}

// Handler is the event+amplitude store contract. Implementations must
// serialize their own access; the daemon's control thread calls these
// synchronously and assumes no partial writes are ever observable.
type Handler interface {
	// GetEvent returns the stored record for id, or (nil, nil) if unknown.
	GetEvent(ctx context.Context, id string) (*event.Record, error)

	// InsertEvent persists r. update distinguishes insert-new from
	// overwrite-existing for handlers that need it (the reference
	// implementation upserts either way).
	InsertEvent(ctx context.Context, r *event.Record, update bool) error

	// DeleteEvent removes the stored record for id. Deleting an unknown id
	// is not an error.
	DeleteEvent(ctx context.Context, id string) error

	// GetRepeats returns every event with a non-empty repeat schedule.
	GetRepeats(ctx context.Context) ([]RepeatEntry, error)

	// AssociateAll runs amplitude association against every event with
	// unassociated amplitudes and returns the ids that gained new
	// associations.
	AssociateAll(ctx context.Context) ([]string, error)

	// CleanAmps deletes unassociated amplitudes older than the given age.
	CleanAmps(ctx context.Context, olderThan time.Duration) error

	// CleanEvents deletes events older than the given age (by origin time).
	CleanEvents(ctx context.Context, olderThan time.Duration) error
}

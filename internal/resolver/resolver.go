// Package resolver implements the trigger resolver: the
// single writer of event state, deciding whether an incoming trigger starts,
// defers, or drops a processing run.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/chinaperrin/shaked/internal/config"
	"github.com/chinaperrin/shaked/internal/descriptor"
	"github.com/chinaperrin/shaked/internal/event"
	"github.com/chinaperrin/shaked/internal/filterplugin"
	"github.com/chinaperrin/shaked/internal/handler"
	"github.com/chinaperrin/shaked/internal/supervisor"
)

// Resolver owns the event-decision algorithm. The control loop is the only
// expected caller of ProcessOrigin/ProcessCancel/ProcessOther, but the admin
// channel's replay operation goes through the same entry points from its own
// goroutine; mu serializes the two so they never interleave mutations of the
// same id.
type Resolver struct {
	mu        sync.Mutex
	handler   handler.Handler
	super     *supervisor.Supervisor
	predicate filterplugin.Predicate
	cfg       *config.Config
	dataRoot  string
	log       *slog.Logger
}

// New builds a Resolver bound to the given storage, supervisor, and filter
// predicate.
func New(h handler.Handler, sup *supervisor.Supervisor, predicate filterplugin.Predicate, cfg *config.Config, log *slog.Logger) *Resolver {
	return &Resolver{
		handler:   h,
		super:     sup,
		predicate: predicate,
		cfg:       cfg,
		dataRoot:  cfg.DataRoot,
		log:       log,
	}
}

// Close releases the filter predicate (relevant when it hosts a WebAssembly
// runtime); safe to call on shutdown regardless of which predicate is in
// use.
func (res *Resolver) Close(ctx context.Context) error {
	return res.predicate.Close(ctx)
}

// ProcessOrigin handles a decoded "origin" trigger.
func (res *Resolver) ProcessOrigin(ctx context.Context, raw []byte) error {
	res.mu.Lock()
	defer res.mu.Unlock()

	r, err := event.FromWire(raw)
	if err != nil {
		res.log.Warn("dropping origin: decode failure", "error", err)
		return nil
	}
	if r.ID == "" {
		res.log.Warn("dropping origin: missing id")
		return nil
	}

	action, ok := r.Action()
	if !ok || action == "" {
		action = "origin"
	}

	existing, forceRun, err := res.reconcileIdentity(ctx, r)
	if err != nil {
		return fmt.Errorf("resolve identity for %s: %w", r.ID, err)
	}

	if existing == nil {
		return res.processNew(ctx, r, action, forceRun)
	}

	r.Repeats = append([]int64(nil), existing.Repeats...)
	r.LastRun = existing.LastRun
	return res.runRetriggerOrDispatch(ctx, r, action)
}

// ProcessCancel handles a decoded "cancel" trigger. No magnitude/age
// filtering applies; an unknown event (by primary id or first-match alias)
// is dropped.
func (res *Resolver) ProcessCancel(ctx context.Context, raw []byte) error {
	res.mu.Lock()
	defer res.mu.Unlock()

	r, err := event.FromWire(raw)
	if err != nil {
		res.log.Warn("dropping cancel: decode failure", "error", err)
		return nil
	}
	if r.ID == "" {
		res.log.Warn("dropping cancel: missing id")
		return nil
	}

	stored, err := res.findKnown(ctx, r.ID, r.AltEventIDs)
	if err != nil {
		return fmt.Errorf("resolve cancel target for %s: %w", r.ID, err)
	}
	if stored == nil {
		res.log.Info("dropping cancel: unknown event", "id", r.ID)
		return nil
	}

	if err := res.super.Spawn(stored.ID, "cancel", supervisor.Config{
		Executable:     res.cfg.ShakeExecutable,
		AutorunModules: res.cfg.ShakeAutorunModules,
	}); err != nil {
		res.log.Error("cancel spawn failed", "id", stored.ID, "error", err)
		return err
	}
	return nil
}

// ProcessOther handles any non-origin, non-cancel trigger whose payload
// carries only an id: the *stored* record, not the payload, is passed
// through the re-trigger/dispatch logic with the given action string.
func (res *Resolver) ProcessOther(ctx context.Context, action string, raw []byte) error {
	res.mu.Lock()
	defer res.mu.Unlock()

	r, err := event.FromWire(raw)
	if err != nil {
		res.log.Warn("dropping other-trigger: decode failure", "action", action, "error", err)
		return nil
	}
	if r.ID == "" {
		res.log.Warn("dropping other-trigger: missing id", "action", action)
		return nil
	}

	stored, err := res.findKnown(ctx, r.ID, r.AltEventIDs)
	if err != nil {
		return fmt.Errorf("resolve other-trigger target for %s: %w", r.ID, err)
	}
	if stored == nil {
		res.log.Info("dropping other-trigger: unknown event", "id", r.ID, "action", action)
		return nil
	}

	return res.runRetriggerOrDispatch(ctx, stored.Clone(), action)
}

// processNew is branch B: the new-event path.
func (res *Resolver) processNew(ctx context.Context, r *event.Record, action string, forceRun bool) error {
	if !forceRun && !res.predicate.Allow(r.Magnitude, r.Lon, r.Lat) {
		res.log.Info("dropping origin: fails magnitude/distance filter", "id", r.ID, "mag", r.Magnitude)
		return nil
	}

	t, err := event.ParseOriginTime(r.Time)
	if err != nil {
		res.log.Error("dropping origin: unparseable origin time", "id", r.ID, "time", r.Time, "error", err)
		return nil
	}

	if !forceRun {
		age := time.Since(t)
		if age > res.cfg.OldEventAge || age < -res.cfg.FutureEventAge {
			res.log.Info("dropping origin: outside age bounds", "id", r.ID, "age", age)
			return nil
		}
	}

	r.Repeats = computeRepeats(res.cfg.RepeatsSnapshot(), t, r.Magnitude, time.Now())
	return res.dispatch(ctx, r, action)
}

// runRetriggerOrDispatch is branch C: r.Repeats/r.LastRun must already
// reflect the carried-forward stored state before calling this.
func (res *Resolver) runRetriggerOrDispatch(ctx context.Context, r *event.Record, action string) error {
	now := time.Now()
	mtw := res.cfg.MaxTriggerWait
	mtwSec := int64(mtw.Seconds())

	if res.super.Live(r.ID) {
		r.EnsureRepeatWithin(now, mtw)
		return res.persist(ctx, r)
	}
	if len(r.Repeats) > 0 && now.Unix()-r.Repeats[0] > -mtwSec {
		return res.persist(ctx, r)
	}
	if r.LastRun != nil && now.Unix()-*r.LastRun < mtwSec {
		r.EnsureRepeatWithin(now, mtw)
		return res.persist(ctx, r)
	}
	return res.dispatch(ctx, r, action)
}

// dispatch is branch D: persist, write descriptor, spawn.
func (res *Resolver) dispatch(ctx context.Context, r *event.Record, action string) error {
	now := time.Now().Unix()
	r.LastRun = &now

	if err := res.persist(ctx, r); err != nil {
		return err
	}

	if err := descriptor.Write(res.dataRoot, r); err != nil {
		res.log.Error("descriptor write failed, dispatching anyway", "id", r.ID, "error", err)
	}

	if err := res.super.Spawn(r.ID, action, supervisor.Config{
		Executable:     res.cfg.ShakeExecutable,
		AutorunModules: res.cfg.ShakeAutorunModules,
	}); err != nil {
		res.log.Error("spawn failed", "id", r.ID, "action", action, "error", err)
		return err
	}
	return nil
}

func (res *Resolver) persist(ctx context.Context, r *event.Record) error {
	if err := res.handler.InsertEvent(ctx, r, true); err != nil {
		return fmt.Errorf("persist event %s: %w", r.ID, err)
	}
	return nil
}

// reconcileIdentity is branch A. It returns the stored record for r.ID if
// present; otherwise, if the first matching alias exists, it absorbs that
// alias (killing its live child, deleting its record, renaming its data
// directory) and reports forceRun=true with existing=nil.
func (res *Resolver) reconcileIdentity(ctx context.Context, r *event.Record) (existing *event.Record, forceRun bool, err error) {
	existing, err = res.handler.GetEvent(ctx, r.ID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	for _, alias := range r.AltEventIDs {
		if alias == r.ID {
			continue
		}
		aliasRec, aerr := res.handler.GetEvent(ctx, alias)
		if aerr != nil {
			return nil, false, aerr
		}
		if aliasRec == nil {
			continue
		}

		if res.super.Live(alias) {
			if kerr := res.super.Kill(alias); kerr != nil {
				res.log.Warn("alias reconciliation: kill failed", "alias", alias, "error", kerr)
			}
		}
		if derr := res.handler.DeleteEvent(ctx, alias); derr != nil {
			return nil, false, derr
		}
		res.renameDataDir(alias, r.ID)
		return nil, true, nil
	}

	return nil, false, nil
}

// findKnown looks up id, then (first match only) each of altIDs, returning
// the stored record or nil.
func (res *Resolver) findKnown(ctx context.Context, id string, altIDs []string) (*event.Record, error) {
	rec, err := res.handler.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}
	for _, alias := range altIDs {
		if alias == id {
			continue
		}
		rec, err := res.handler.GetEvent(ctx, alias)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	return nil, nil
}

// renameDataDir renames <dataRoot>/<oldID> to <dataRoot>/<newID> under a
// flock-guarded section, so a transient second daemon
// instance sharing the same data root can't observe a half-renamed tree.
// Failure is logged and otherwise ignored: the rename is best-effort.
func (res *Resolver) renameDataDir(oldID, newID string) {
	lockPath := filepath.Join(res.dataRoot, ".rename.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil || !locked {
		res.log.Warn("rename data dir: lock unavailable", "old", oldID, "new", newID, "error", err)
		return
	}
	defer func() { _ = lock.Unlock() }()

	oldDir := filepath.Join(res.dataRoot, oldID)
	if _, err := os.Stat(oldDir); os.IsNotExist(err) {
		return
	}
	newDir := filepath.Join(res.dataRoot, newID)
	if err := os.Rename(oldDir, newDir); err != nil {
		res.log.Warn("rename data dir failed", "old", oldID, "new", newID, "error", err)
	}
}

// computeRepeats applies the repeat-configuration table to a freshly
// originated event, retaining only offsets still in the future.
func computeRepeats(table config.RepeatTable, originTime time.Time, mag float64, now time.Time) []int64 {
	offsets, ok := table.SelectOffsets(mag)
	if !ok {
		return nil
	}
	base := originTime.Unix()
	nowSec := now.Unix()

	var out []int64
	for _, off := range offsets {
		abs := base + off
		if abs > nowSec {
			out = append(out, abs)
		}
	}
	return out
}

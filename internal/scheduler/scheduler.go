// Package scheduler implements the repeat-scan tick: on each periodic tick,
// find events whose next scheduled repeat is due and either absorb it into
// an already-running child or dispatch a new one.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chinaperrin/shaked/internal/config"
	"github.com/chinaperrin/shaked/internal/descriptor"
	"github.com/chinaperrin/shaked/internal/event"
	"github.com/chinaperrin/shaked/internal/handler"
	"github.com/chinaperrin/shaked/internal/supervisor"
)

// ScheduledRepeatAction is the action string tagged onto children dispatched
// by the repeat scan, distinguishing them from fresh origins in logs and in
// the external executable's own dispatch records.
const ScheduledRepeatAction = "Scheduled repeat"

// Scanner owns the repeat-scan tick. It is stateless between ticks: all
// state lives in the handler.
type Scanner struct {
	handler  handler.Handler
	super    *supervisor.Supervisor
	cfg      *config.Config
	dataRoot string
	log      *slog.Logger
}

// New builds a Scanner bound to the given storage and supervisor.
func New(h handler.Handler, sup *supervisor.Supervisor, cfg *config.Config, log *slog.Logger) *Scanner {
	return &Scanner{handler: h, super: sup, cfg: cfg, dataRoot: cfg.DataRoot, log: log}
}

// Tick enumerates every event with a non-empty repeat schedule and processes
// each whose head entry is due.
func (s *Scanner) Tick(ctx context.Context) error {
	entries, err := s.handler.GetRepeats(ctx)
	if err != nil {
		return fmt.Errorf("repeat scan: list schedules: %w", err)
	}

	now := time.Now()
	for _, entry := range entries {
		if len(entry.Repeats) == 0 {
			continue
		}
		if entry.Repeats[0] >= now.Unix() {
			continue
		}
		if err := s.fireOne(ctx, entry, now); err != nil {
			return err
		}
	}
	return nil
}

// fireOne processes one due repeat for entry.
func (s *Scanner) fireOne(ctx context.Context, entry handler.RepeatEntry, now time.Time) error {
	r, err := s.handler.GetEvent(ctx, entry.ID)
	if err != nil {
		return fmt.Errorf("repeat scan: get event %s: %w", entry.ID, err)
	}
	if r == nil {
		// Raced with a deletion (alias absorption) between GetRepeats and
		// here; nothing to do.
		return nil
	}

	if s.super.Live(entry.ID) {
		popHead(r)
		if err := s.persist(ctx, r); err != nil {
			return err
		}
		return nil
	}

	if err := descriptor.Write(s.dataRoot, r); err != nil {
		s.log.Error("repeat scan: descriptor write failed, dispatching anyway", "id", entry.ID, "error", err)
	}

	popHead(r)
	nowSec := now.Unix()
	r.LastRun = &nowSec
	if err := s.persist(ctx, r); err != nil {
		return err
	}

	if err := s.super.Spawn(entry.ID, ScheduledRepeatAction, supervisor.Config{
		Executable:     s.cfg.ShakeExecutable,
		AutorunModules: s.cfg.ShakeAutorunModules,
	}); err != nil {
		// Non-fatal: no child is tracked, the popped head and new lastrun
		// stay persisted, and the scan continues to whatever else is due
		// this tick.
		s.log.Error("repeat scan: spawn failed", "id", entry.ID, "error", err)
	}
	return nil
}

// popHead removes only the due head entry, leaving any later entries (or any
// other still-overdue ones, caught on a subsequent tick) untouched. Empty
// becomes nil.
func popHead(r *event.Record) {
	if len(r.Repeats) == 0 {
		return
	}
	if len(r.Repeats) == 1 {
		r.Repeats = nil
		return
	}
	r.Repeats = r.Repeats[1:]
}

func (s *Scanner) persist(ctx context.Context, r *event.Record) error {
	if err := s.handler.InsertEvent(ctx, r, true); err != nil {
		return fmt.Errorf("repeat scan: persist %s: %w", r.ID, err)
	}
	return nil
}

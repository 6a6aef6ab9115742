// Package driver is the periodic driver: the daemon's single control loop,
// interleaving bounded-latency trigger accept with the repeats/reap,
// memory-log, associator, and database-maintenance cadences.
package driver

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/chinaperrin/shaked/internal/config"
	"github.com/chinaperrin/shaked/internal/handler"
	"github.com/chinaperrin/shaked/internal/listener"
	"github.com/chinaperrin/shaked/internal/resolver"
	"github.com/chinaperrin/shaked/internal/scheduler"
	"github.com/chinaperrin/shaked/internal/supervisor"
)

const (
	memoryLogInterval = 3600 * time.Second
	dbMaintInterval   = 86400 * time.Second
	cleanAmpsAge      = 30 * 24 * time.Hour
	cleanEventsAge    = 365 * 24 * time.Hour

	// DataAssociationAction tags children dispatched because the
	// associator attached new amplitude data to a previously-quiet event.
	DataAssociationAction = "Data association"
)

// cadence tracks the last-fired timestamp for one periodic task, encapsulated
// as its own type rather than left as free-floating package state.
type cadence struct {
	interval time.Duration
	last     time.Time // zero value fires immediately
}

func (c *cadence) due(now time.Time) bool {
	return c.interval >= 0 && now.Sub(c.last) >= c.interval
}

func (c *cadence) fired(now time.Time) { c.last = now }

// Driver owns the control loop.
type Driver struct {
	listener  *listener.Listener
	scheduler *scheduler.Scanner
	super     *supervisor.Supervisor
	resolver  *resolver.Resolver
	handler   handler.Handler
	cfg       *config.Config
	log       *slog.Logger

	memory      cadence
	associator  cadence
	dbMaint     cadence
}

// New assembles a Driver from the daemon's already-constructed components.
func New(l *listener.Listener, s *scheduler.Scanner, sup *supervisor.Supervisor, res *resolver.Resolver, h handler.Handler, cfg *config.Config, log *slog.Logger) *Driver {
	return &Driver{
		listener:   l,
		scheduler:  s,
		super:      sup,
		resolver:   res,
		handler:    h,
		cfg:        cfg,
		log:        log,
		memory: cadence{interval: memoryLogInterval},
		// Unlike memory/dbMaint, the associator does not fire on the first
		// tick: it waits out its first full interval.
		associator: cadence{interval: cfg.AssociateInterval, last: time.Now()},
		dbMaint:    cadence{interval: dbMaintInterval},
	}
}

// Run executes the control loop until ctx is canceled. Each iteration
// accepts (bounded by the listener's own accept timeout) then runs whichever
// cadences are due; there is no parallelism between them.
func (d *Driver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := d.listener.AcceptOnce(ctx); err != nil {
			return err
		}

		if err := d.tick(ctx); err != nil {
			return err
		}
	}
}

// tick runs the repeats/reap cadence (every iteration) plus whichever other
// cadences are due.
func (d *Driver) tick(ctx context.Context) error {
	d.super.Reap()
	if err := d.scheduler.Tick(ctx); err != nil {
		return err
	}

	now := time.Now()

	if d.memory.due(now) {
		d.logMemory()
		d.memory.fired(now)
	}

	if d.dbMaint.due(now) {
		// Force an associator run first so amplitudes that would have
		// associated aren't dropped by the cleanup below.
		if err := d.runAssociator(ctx); err != nil {
			return err
		}
		d.associator.fired(now)

		if err := d.handler.CleanAmps(ctx, cleanAmpsAge); err != nil {
			return err
		}
		if err := d.handler.CleanEvents(ctx, cleanEventsAge); err != nil {
			return err
		}
		d.dbMaint.fired(now)
		return nil
	}

	if d.associator.due(now) {
		if err := d.runAssociator(ctx); err != nil {
			return err
		}
		d.associator.fired(now)
	}

	return nil
}

func (d *Driver) runAssociator(ctx context.Context) error {
	ids, err := d.handler.AssociateAll(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		payload := []byte(`{"id":"` + id + `"}`)
		if err := d.resolver.ProcessOther(ctx, DataAssociationAction, payload); err != nil {
			d.log.Error("associator dispatch failed", "id", id, "error", err)
		}
	}
	return nil
}

func (d *Driver) logMemory() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	attrs := []any{"alloc_bytes", m.Alloc, "sys_bytes", m.Sys, "heap_inuse_bytes", m.HeapInuse}
	// Resident set size comes from /proc/self/statm (second field, in
	// pages); where that file is unavailable only the runtime stats are logged.
	if statm, err := os.ReadFile("/proc/self/statm"); err == nil {
		if f := strings.Fields(string(statm)); len(f) > 1 {
			if pages, err := strconv.ParseInt(f[1], 10, 64); err == nil {
				attrs = append(attrs, "rss_bytes", pages*int64(os.Getpagesize()))
			}
		}
	}
	d.log.Info("memory usage", attrs...)
}

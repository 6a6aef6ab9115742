package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chinaperrin/shaked/internal/adminrpc"
	"github.com/chinaperrin/shaked/internal/config"
	"github.com/chinaperrin/shaked/internal/driver"
	"github.com/chinaperrin/shaked/internal/filterplugin"
	"github.com/chinaperrin/shaked/internal/handler/sqlite"
	"github.com/chinaperrin/shaked/internal/listener"
	"github.com/chinaperrin/shaked/internal/logging"
	"github.com/chinaperrin/shaked/internal/resolver"
	"github.com/chinaperrin/shaked/internal/scheduler"
	"github.com/chinaperrin/shaked/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the trigger-dispatch daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context(), cfgPath)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg)
	instanceID := uuid.New().String()
	log.Info("starting", "instance_id", instanceID, "config", configPath, "attached", cfg.Attached)

	// A detached daemon is meant to run as the only instance against its
	// data root; an attached run (foreground, typically interactive) skips
	// the lock so an operator can run a second, throwaway instance for
	// inspection without contending with the real one.
	if !cfg.Attached {
		lockPath := filepath.Join(cfg.DataRoot, ".shaked.lock")
		if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
			return fmt.Errorf("create data root %s: %w", cfg.DataRoot, err)
		}
		lock := flock.New(lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire instance lock %s: %w", lockPath, err)
		}
		if !locked {
			return fmt.Errorf("another shaked instance already holds %s", lockPath)
		}
		defer func() { _ = lock.Unlock() }()
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	defer func() { _ = store.Close() }()

	predicate := buildPredicate(ctx, cfg, log)

	sup := supervisor.New(log)
	res := resolver.New(store, sup, predicate, cfg, log)
	defer func() { _ = res.Close(ctx) }()

	sc := scheduler.New(store, sup, cfg, log)

	ln, err := listener.Listen(cfg, res, log)
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}
	defer func() { _ = ln.Close() }()

	admin, err := adminrpc.Listen(cfg.AdminSocket, store, sup, res, log)
	if err != nil {
		return fmt.Errorf("listen on admin socket %s: %w", cfg.AdminSocket, err)
	}
	defer func() { _ = admin.Close() }()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := admin.Serve(ctx); err != nil {
			log.Error("admin channel stopped", "error", err)
		}
	}()

	if err := cfg.WatchRepeatsFile(ctx, log); err != nil {
		log.Warn("repeats file watcher not started", "error", err)
	}

	d := driver.New(ln, sc, sup, res, store, cfg, log)
	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("control loop: %w", err)
	}
	log.Info("stopped", "instance_id", instanceID)
	return nil
}

// buildPredicate loads the configured WASM filter module, falling back to
// the built-in threshold predicate (and logging a warning) if loading fails.
func buildPredicate(ctx context.Context, cfg *config.Config, log *slog.Logger) filterplugin.Predicate {
	builtin := filterplugin.NewBuiltin(cfg.MinMag, cfg.MaxDistanceKm, cfg.SiteLon, cfg.SiteLat)
	if cfg.FilterModule == "" {
		return builtin
	}
	p, err := filterplugin.LoadWasm(ctx, cfg.FilterModule, builtin)
	if err != nil {
		log.Warn("filter module load failed, falling back to built-in predicate", "module", cfg.FilterModule, "error", err)
		return builtin
	}
	return p
}

// Package integration drives the daemon end-to-end through its two wire
// protocols (the public TCP trigger port and the admin UNIX socket) using
// rsc.io/script, the script-test engine cmd/go itself is built on. The
// teacher's go.mod declares this dependency without ever exercising it; this
// package gives it a home as the project's "test tooling" ambient concern.
package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rsc.io/script"
	"rsc.io/script/scripttest"

	"github.com/chinaperrin/shaked/internal/adminrpc"
	"github.com/chinaperrin/shaked/internal/config"
	"github.com/chinaperrin/shaked/internal/driver"
	"github.com/chinaperrin/shaked/internal/filterplugin"
	"github.com/chinaperrin/shaked/internal/handler/sqlite"
	"github.com/chinaperrin/shaked/internal/listener"
	"github.com/chinaperrin/shaked/internal/resolver"
	"github.com/chinaperrin/shaked/internal/scheduler"
	"github.com/chinaperrin/shaked/internal/supervisor"
)

func TestScripts(t *testing.T) {
	ctx := context.Background()
	engine := &script.Engine{
		Cmds:  script.DefaultCmds(),
		Conds: script.DefaultConds(),
	}
	engine.Cmds["daemon"] = cmdDaemon()
	engine.Cmds["trigger"] = cmdTrigger()
	engine.Cmds["admin"] = cmdAdmin()
	engine.Cmds["sleep"] = cmdSleep()

	scripttest.Test(t, ctx, engine, os.Environ(), "testdata/*.txt")
}

// cmdDaemon boots a full in-process daemon (store, supervisor, resolver,
// listener, admin channel, driver) and publishes TRIGGER_ADDR/ADMIN_SOCK for
// the other commands to dial. It shuts the daemon down when the script's
// context is canceled at the end of the test.
func cmdDaemon() script.Cmd {
	return script.Command(
		script.CmdUsage{
			Summary: "start an in-process shaked daemon",
			Args:    "[shake-executable]",
		},
		func(s *script.State, args ...string) (script.WaitFunc, error) {
			shakeExe := "/bin/true"
			if len(args) > 0 {
				shakeExe = args[0]
			}

			dataRoot := s.Path("data")
			if err := os.MkdirAll(dataRoot, 0o755); err != nil {
				return nil, fmt.Errorf("create data root: %w", err)
			}

			cfg := &config.Config{
				Port:              0,
				AdminSocket:       filepath.Join(s.Path("."), "admin.sock"),
				DataRoot:          dataRoot,
				DBPath:            filepath.Join(dataRoot, "shaked.db"),
				ShakeExecutable:   shakeExe,
				MaxTriggerWait:    300 * time.Second,
				OldEventAge:       7 * 24 * time.Hour,
				FutureEventAge:    time.Hour,
				AssociateInterval: time.Hour,
			}

			store, err := sqlite.Open(cfg.DBPath)
			if err != nil {
				return nil, fmt.Errorf("open database: %w", err)
			}

			log := slog.New(slog.NewTextHandler(io.Discard, nil))
			sup := supervisor.New(log)
			predicate := filterplugin.NewBuiltin(cfg.MinMag, cfg.MaxDistanceKm, cfg.SiteLon, cfg.SiteLat)
			res := resolver.New(store, sup, predicate, cfg, log)
			sc := scheduler.New(store, sup, cfg, log)

			ln, err := listener.Listen(cfg, res, log)
			if err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("listen: %w", err)
			}

			admin, err := adminrpc.Listen(cfg.AdminSocket, store, sup, res, log)
			if err != nil {
				_ = ln.Close()
				_ = store.Close()
				return nil, fmt.Errorf("admin listen: %w", err)
			}

			ctx := s.Context()
			go func() { _ = admin.Serve(ctx) }()

			d := driver.New(ln, sc, sup, res, store, cfg, log)
			go func() { _ = d.Run(ctx) }()

			go func() {
				<-ctx.Done()
				_ = ln.Close()
				_ = admin.Close()
				_ = res.Close(context.Background())
				_ = store.Close()
			}()

			if err := s.Setenv("TRIGGER_ADDR", ln.Addr().String()); err != nil {
				return nil, err
			}
			if err := s.Setenv("ADMIN_SOCK", cfg.AdminSocket); err != nil {
				return nil, err
			}

			return func(*script.State) (string, string, error) { return "", "", nil }, nil
		},
	)
}

// cmdTrigger sends one trigger document to $TRIGGER_ADDR: `trigger <type> <json>`.
func cmdTrigger() script.Cmd {
	return script.Command(
		script.CmdUsage{
			Summary: "send a trigger document to the daemon's TCP port",
			Args:    "type json",
		},
		func(s *script.State, args ...string) (script.WaitFunc, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("usage: trigger type json")
			}
			addr := s.Getenv("TRIGGER_ADDR")
			if addr == "" {
				return nil, fmt.Errorf("TRIGGER_ADDR not set; run the daemon command first")
			}

			doc := fmt.Sprintf(`{"type":%q,"data":%s}`, args[0], args[1])
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return nil, fmt.Errorf("dial %s: %w", addr, err)
			}
			defer func() { _ = conn.Close() }()
			if _, err := conn.Write([]byte(doc)); err != nil {
				return nil, fmt.Errorf("write trigger: %w", err)
			}

			return func(*script.State) (string, string, error) { return "", "", nil }, nil
		},
	)
}

// cmdAdmin calls one admin-channel operation and renders a small summary to
// stdout for `stdout`-pattern assertions: `admin ping|status|get_event|replay ...`.
func cmdAdmin() script.Cmd {
	return script.Command(
		script.CmdUsage{
			Summary: "call the admin channel",
			Args:    "op [args...]",
		},
		func(s *script.State, args ...string) (script.WaitFunc, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("usage: admin op [args...]")
			}
			sock := s.Getenv("ADMIN_SOCK")
			if sock == "" {
				return nil, fmt.Errorf("ADMIN_SOCK not set; run the daemon command first")
			}
			c := adminrpc.NewClient(sock)

			var out string
			var err error
			switch args[0] {
			case "ping":
				err = c.Ping()
				if err == nil {
					out = "pong\n"
				}
			case "status":
				var st *adminrpc.StatusResponse
				st, err = c.Status()
				if err == nil {
					out = fmt.Sprintf("live_children=%d upcoming=%d\n", st.LiveChildren, len(st.UpcomingRepeat))
				}
			case "get_event":
				if len(args) != 2 {
					return nil, fmt.Errorf("usage: admin get_event id")
				}
				var ev *adminrpc.EventView
				ev, err = c.GetEvent(args[1])
				if err == nil {
					out = fmt.Sprintf("id=%s mag=%v repeats=%d\n", ev.ID, ev.Magnitude, len(ev.Repeats))
				}
			case "replay":
				if len(args) < 2 {
					return nil, fmt.Errorf("usage: admin replay id [action]")
				}
				action := "operator replay"
				if len(args) > 2 {
					action = args[2]
				}
				err = c.Replay(args[1], action)
				if err == nil {
					out = "replayed\n"
				}
			default:
				err = fmt.Errorf("unknown admin op %q", args[0])
			}
			if err != nil {
				return nil, err
			}

			return func(*script.State) (string, string, error) { return out, "", nil }, nil
		},
	)
}

// cmdSleep pauses script execution, used to give the control loop time to
// accept a connection between AcceptOnce iterations.
func cmdSleep() script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "sleep for a duration", Args: "duration"},
		func(s *script.State, args ...string) (script.WaitFunc, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("usage: sleep duration")
			}
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return nil, err
			}
			time.Sleep(d)
			return func(*script.State) (string, string, error) { return "", "", nil }, nil
		},
	)
}

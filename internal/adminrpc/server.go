package adminrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/chinaperrin/shaked/internal/buildinfo"
	"github.com/chinaperrin/shaked/internal/event"
	"github.com/chinaperrin/shaked/internal/handler"
	"github.com/chinaperrin/shaked/internal/resolver"
	"github.com/chinaperrin/shaked/internal/supervisor"
)

// Server is the admin-channel listener. It runs its own accept loop on a
// goroutine separate from the daemon's control thread; the only state it
// mutates is reached through res, which serializes with the control thread
// internally.
type Server struct {
	ln        net.Listener
	handler   handler.Handler
	super     *supervisor.Supervisor
	res       *resolver.Resolver
	log       *slog.Logger
	startTime time.Time
}

// Listen binds the admin UNIX socket at path, removing a stale socket file
// left behind by a prior, uncleanly-terminated daemon.
func Listen(path string, h handler.Handler, sup *supervisor.Supervisor, res *resolver.Resolver, log *slog.Logger) (*Server, error) {
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on admin socket %s: %w", path, err)
	}
	return &Server{ln: ln, handler: h, super: sup, res: res, log: log, startTime: time.Now()}, nil
}

// Close releases the listening socket and removes the socket file.
func (s *Server) Close() error {
	err := s.ln.Close()
	_ = os.Remove(s.ln.Addr().String())
	return err
}

// Serve accepts connections until ctx is canceled or the listener is closed.
// Meant to be run on its own goroutine for the daemon's lifetime.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("admin accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		s.log.Warn("admin channel: read failed", "error", err)
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeResponse(conn, Response{Success: false, Error: "malformed request"})
		return
	}

	resp := s.dispatch(ctx, req)
	s.writeResponse(conn, resp)
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	out, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("admin channel: marshal response failed", "error", err)
		return
	}
	w := bufio.NewWriter(conn)
	if _, err := w.Write(out); err != nil {
		return
	}
	_ = w.WriteByte('\n')
	_ = w.Flush()
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Operation {
	case OpPing:
		return s.handlePing()
	case OpStatus:
		return s.handleStatus(ctx)
	case OpGetEvent:
		return s.handleGetEvent(ctx, req.Args)
	case OpReplay:
		return s.handleReplay(ctx, req.Args)
	default:
		return Response{Success: false, Error: fmt.Sprintf("unknown operation %q", req.Operation)}
	}
}

func (s *Server) handlePing() Response {
	return ok(PingResponse{Message: "pong"})
}

func (s *Server) handleStatus(ctx context.Context) Response {
	entries, err := s.handler.GetRepeats(ctx)
	if err != nil {
		return Response{Success: false, Error: err.Error()}
	}

	var upcoming []UpcomingEntry
	for _, e := range entries {
		if len(e.Repeats) == 0 {
			continue
		}
		upcoming = append(upcoming, UpcomingEntry{ID: e.ID, At: e.Repeats[0]})
	}
	if len(upcoming) > 5 {
		upcoming = upcoming[:5]
	}

	return ok(StatusResponse{
		DaemonVersion:  buildinfo.Version,
		UptimeSeconds:  time.Since(s.startTime).Seconds(),
		LiveChildren:   s.super.Count(),
		UpcomingRepeat: upcoming,
	})
}

func (s *Server) handleGetEvent(ctx context.Context, args json.RawMessage) Response {
	var a GetEventArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return Response{Success: false, Error: "invalid arguments"}
	}

	r, err := s.handler.GetEvent(ctx, a.ID)
	if err != nil {
		return Response{Success: false, Error: err.Error()}
	}
	if r == nil {
		return Response{Success: false, Error: fmt.Sprintf("unknown event %q", a.ID)}
	}

	return ok(viewOf(r))
}

func (s *Server) handleReplay(ctx context.Context, args json.RawMessage) Response {
	var a ReplayArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return Response{Success: false, Error: "invalid arguments"}
	}
	if a.Action == "" {
		a.Action = "replay"
	}

	payload := []byte(fmt.Sprintf(`{"id":%q}`, a.ID))
	if err := s.res.ProcessOther(ctx, a.Action, payload); err != nil {
		return Response{Success: false, Error: err.Error()}
	}
	return ok(PingResponse{Message: fmt.Sprintf("replayed %s as %s", a.ID, a.Action)})
}

func viewOf(r *event.Record) EventView {
	return EventView{
		ID:          r.ID,
		AltEventIDs: r.AltEventIDs,
		Time:        r.Time,
		Magnitude:   r.Magnitude,
		Lon:         r.Lon,
		Lat:         r.Lat,
		Repeats:     r.Repeats,
		LastRun:     r.LastRun,
	}
}

func ok(data interface{}) Response {
	raw, err := json.Marshal(data)
	if err != nil {
		return Response{Success: false, Error: err.Error()}
	}
	return Response{Success: true, Data: raw}
}

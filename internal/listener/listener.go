// Package listener is the public TCP trigger port: accept, hostname
// allow-list, length-bounded read, JSON decode, and dispatch into the
// resolver.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/chinaperrin/shaked/internal/config"
	"github.com/chinaperrin/shaked/internal/resolver"
)

// MaxPayloadBytes bounds a single trigger document.
const MaxPayloadBytes = 1 << 20 // 1 MiB

// Indirection points so tests can shrink the accept/read windows instead of
// waiting out the real 30s/5s bounds.
var (
	acceptTimeout = 30 * time.Second
	readTimeout   = 5 * time.Second
)

// envelope is the outer shape of every trigger document.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Listener owns the public trigger socket. AcceptOnce is meant to be called
// repeatedly from the control loop's single thread; it blocks for at most
// acceptTimeout per call, so the loop can interleave with periodic ticks.
type Listener struct {
	ln  net.Listener
	cfg *config.Config
	res *resolver.Resolver
	log *slog.Logger
}

// Listen binds the configured TCP port.
func Listen(cfg *config.Config, res *resolver.Resolver, log *slog.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}
	return &Listener{ln: ln, cfg: cfg, res: res, log: log}, nil
}

// Close releases the listening socket.
func (l *Listener) Close() error { return l.ln.Close() }

// Addr returns the listener's bound network address, useful when cfg.Port
// is 0 and the OS assigns an ephemeral port (as in tests).
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// AcceptOnce waits for a single connection (bounded by acceptTimeout),
// handles it synchronously, and returns. A timeout with no connection is not
// an error: the caller should simply call AcceptOnce again.
func (l *Listener) AcceptOnce(ctx context.Context) error {
	type deadlineSetter interface {
		SetDeadline(time.Time) error
	}
	if ds, ok := l.ln.(deadlineSetter); ok {
		if err := ds.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
			return fmt.Errorf("set accept deadline: %w", err)
		}
	}

	conn, err := l.ln.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return fmt.Errorf("accept: %w", err)
	}

	l.handle(ctx, conn)
	return nil
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	if !l.allowedHost(host) {
		l.log.Warn("rejecting connection: host not on allow-list", "remote", host)
		return
	}

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		l.log.Warn("set read deadline failed", "remote", host, "error", err)
		return
	}

	data, err := io.ReadAll(io.LimitReader(conn, MaxPayloadBytes+1))
	if err != nil {
		l.log.Warn("read failed", "remote", host, "error", err)
		return
	}
	if len(data) > MaxPayloadBytes {
		l.log.Warn("dropping trigger: payload exceeds max size", "remote", host, "size", len(data))
		return
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		l.log.Warn("dropping trigger: malformed document", "remote", host, "error", err)
		return
	}
	if env.Type == "" {
		l.log.Warn("dropping trigger: missing type", "remote", host)
		return
	}

	l.dispatch(ctx, env)
}

func (l *Listener) dispatch(ctx context.Context, env envelope) {
	var err error
	switch env.Type {
	case "origin":
		err = l.res.ProcessOrigin(ctx, env.Data)
	case "cancel":
		err = l.res.ProcessCancel(ctx, env.Data)
	default:
		err = l.res.ProcessOther(ctx, env.Type, env.Data)
	}
	if err != nil {
		l.log.Error("trigger processing failed", "type", env.Type, "error", err)
	}
}

// allowedHost reports whether host may submit triggers. An empty Servers
// allow-list means unrestricted (typical for a site trusting its own LAN).
func (l *Listener) allowedHost(remoteIP string) bool {
	if len(l.cfg.Servers) == 0 {
		return true
	}
	names, err := net.LookupAddr(remoteIP)
	if err != nil {
		l.log.Warn("hostname allow-list: reverse lookup failed", "ip", remoteIP, "error", err)
		return false
	}
	for _, n := range names {
		n = strings.TrimSuffix(n, ".")
		if l.cfg.AllowsHost(n) {
			return true
		}
	}
	return false
}

package adminrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is a one-call-per-connection admin channel client, used by the
// shaked CLI.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient builds a client bound to the given admin socket path.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 5 * time.Second}
}

// Execute dials the admin socket, sends one request, and reads one response.
func (c *Client) Execute(operation string, args interface{}) (*Response, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("dial admin socket %s: %w", c.socketPath, err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	reqJSON, err := json.Marshal(Request{Operation: operation, Args: argsJSON})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	w := bufio.NewWriter(conn)
	if _, err := w.Write(reqJSON); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return nil, fmt.Errorf("write newline: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush request: %w", err)
	}

	reader := bufio.NewReader(conn)
	respLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if !resp.Success {
		return &resp, fmt.Errorf("admin call %s failed: %s", operation, resp.Error)
	}
	return &resp, nil
}

// Ping verifies the daemon is alive.
func (c *Client) Ping() error {
	_, err := c.Execute(OpPing, nil)
	return err
}

// Status fetches daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	resp, err := c.Execute(OpStatus, nil)
	if err != nil {
		return nil, err
	}
	var out StatusResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &out, nil
}

// GetEvent fetches a stored event by id.
func (c *Client) GetEvent(id string) (*EventView, error) {
	resp, err := c.Execute(OpGetEvent, GetEventArgs{ID: id})
	if err != nil {
		return nil, err
	}
	var out EventView
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &out, nil
}

// Replay re-triggers a stored event under the given action (empty defaults
// to "replay" server-side).
func (c *Client) Replay(id, action string) error {
	_, err := c.Execute(OpReplay, ReplayArgs{ID: id, Action: action})
	return err
}

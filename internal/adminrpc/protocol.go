// Package adminrpc is the local admin channel: a UNIX socket carrying the
// same single-request/single-response JSON framing as the public trigger
// port, exposing read-only and low-risk operator
// operations alongside it.
package adminrpc

import "encoding/json"

// Operation names recognized by the admin server.
const (
	OpPing     = "ping"
	OpStatus   = "status"
	OpGetEvent = "get_event"
	OpReplay   = "replay"
)

// Request is one admin-channel call. Args is left raw so each operation
// decodes its own shape.
type Request struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// Response is the admin server's reply. Error is set only when Success is
// false.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// PingResponse is OpPing's Data payload.
type PingResponse struct {
	Message string `json:"message"`
}

// StatusResponse is OpStatus's Data payload.
type StatusResponse struct {
	DaemonVersion  string          `json:"daemon_version"`
	UptimeSeconds  float64         `json:"uptime_seconds"`
	LiveChildren   int             `json:"live_children"`
	UpcomingRepeat []UpcomingEntry `json:"upcoming_repeats,omitempty"`
}

// UpcomingEntry names the next scheduled repeat for one event.
type UpcomingEntry struct {
	ID  string `json:"id"`
	At  int64  `json:"at"` // absolute epoch seconds
}

// GetEventArgs is OpGetEvent's Args payload.
type GetEventArgs struct {
	ID string `json:"id"`
}

// EventView is OpGetEvent's Data payload: a read-only, JSON-tagged
// projection of event.Record (the record itself has no struct tags, since
// its canonical wire form goes through gjson/sjson passthrough instead).
type EventView struct {
	ID          string   `json:"id"`
	AltEventIDs []string `json:"alt_eventids,omitempty"`
	Time        string   `json:"time"`
	Magnitude   float64  `json:"mag"`
	Lon         float64  `json:"lon"`
	Lat         float64  `json:"lat"`
	Repeats     []int64  `json:"repeats,omitempty"`
	LastRun     *int64   `json:"lastrun,omitempty"`
}

// ReplayArgs is OpReplay's Args payload: re-inject a stored event through
// the resolver under an operator-chosen action.
type ReplayArgs struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}

// Package transport defines the persistent socket contract the SDK core is
// built on: an inbound stream of raw service events plus outbound requests,
// either fire-and-forget or correlated request/response.
package transport

import (
	"context"
	"encoding/json"
	"time"
)

// RawEvent is the wire envelope for every event the service pushes down the
// socket. Body is left opaque here; the core decodes it per event type.
type RawEvent struct {
	Type      string          `json:"type"`
	CID       string          `json:"cid,omitempty"`
	From      string          `json:"from,omitempty"`
	ID        int64           `json:"id,omitempty"`
	RID       string          `json:"rid,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// Request is an outbound frame. RID is filled in by the transport when the
// caller expects a correlated response.
type Request struct {
	Type string `json:"type"`
	CID  string `json:"cid,omitempty"`
	RID  string `json:"rid,omitempty"`
	Body any    `json:"body,omitempty"`
}

// Response is the service's answer to a correlated Request.
type Response struct {
	Type string          `json:"type"`
	RID  string          `json:"rid"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Session identifies the logged-in user once the handshake completed.
type Session struct {
	SessionID   string
	UserID      string
	UserName    string
	DisplayName string
}

// Transport is the persistent connection to the service. Connect/reconnect
// policy lives behind the implementation; the core only consumes events and
// issues requests.
type Transport interface {
	// Events returns the inbound event stream. The channel is closed when the
	// connection is gone for good.
	Events() <-chan RawEvent

	// Notify sends a fire-and-forget request.
	Notify(ctx context.Context, req Request) error

	// Request sends a request and waits for the response matched by rid.
	Request(ctx context.Context, req Request) (json.RawMessage, error)

	// Session reports the identity established during login.
	Session() Session

	Close() error
}

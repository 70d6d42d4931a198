// Package mediaengine abstracts the real-time media backend. The SDK core
// only tracks legs and drives call status; offer/answer exchange, ICE and
// track plumbing belong to the engine implementation.
package mediaengine

import "context"

// PeerConnection is the engine's connection handle for one leg.
type PeerConnection interface {
	Close() error
}

// Stream is the live local media handle for one leg.
type Stream interface {
	// SetAudioEnabled toggles the local audio track without renegotiating.
	SetAudioEnabled(enabled bool)
	Close() error
}

// Leg is the outcome of a successful negotiation: one participant's media
// connection within an RTC session.
type Leg struct {
	RTCID  string
	PC     PeerConnection
	Stream Stream
}

// Engine negotiates and tears down media legs for a conversation.
type Engine interface {
	// Negotiate runs the offer/answer exchange for one leg of the given
	// conversation and returns the live leg on success.
	Negotiate(ctx context.Context, conversationID, memberID string) (*Leg, error)

	// Hangup terminates the media side of a leg. Local resources are the
	// caller's to release.
	Hangup(ctx context.Context, conversationID, rtcID string) error
}

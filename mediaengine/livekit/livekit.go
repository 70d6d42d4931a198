// Package livekit implements mediaengine.Engine for deployments where the
// service delegates media to LiveKit rooms. Negotiation amounts to minting a
// join token for the room mapped to the conversation; the embedding
// application hands the token to its WebRTC stack.
package livekit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"

	"github.com/wavelinehq/waveline-go/mediaengine"
)

// Engine mints LiveKit join tokens per conversation leg.
type Engine struct {
	apiKey    string
	apiSecret string
	wsURL     string
}

// New creates a LiveKit-backed media engine.
func New(apiKey, apiSecret, wsURL string) *Engine {
	return &Engine{apiKey: apiKey, apiSecret: apiSecret, wsURL: wsURL}
}

// Negotiate implements mediaengine.Engine. The room name is derived from the
// conversation id; LiveKit creates rooms on demand when the first participant
// joins.
func (e *Engine) Negotiate(_ context.Context, conversationID, memberID string) (*mediaengine.Leg, error) {
	room := "waveline-" + conversationID

	at := auth.NewAccessToken(e.apiKey, e.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	}
	at.AddGrant(grant).
		SetIdentity(memberID).
		SetValidFor(time.Hour)

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("generate join token: %w", err)
	}

	return &mediaengine.Leg{
		RTCID:  uuid.NewString(),
		PC:     nopConnection{},
		Stream: &tokenStream{URL: e.wsURL, Room: room, Token: token},
	}, nil
}

// Hangup implements mediaengine.Engine. Rooms auto-expire when empty, so the
// media side needs no explicit teardown here.
func (e *Engine) Hangup(_ context.Context, _, _ string) error {
	return nil
}

type nopConnection struct{}

func (nopConnection) Close() error { return nil }

// tokenStream carries the join credentials for the embedding application's
// WebRTC stack and tracks the requested audio state.
type tokenStream struct {
	URL   string
	Room  string
	Token string

	mu      sync.Mutex
	muted   bool
	closed  bool
	onState func(enabled bool)
}

// SetAudioEnabled implements mediaengine.Stream.
func (s *tokenStream) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = !enabled
	if s.onState != nil {
		s.onState(enabled)
	}
}

// AudioEnabled reports the requested audio state.
func (s *tokenStream) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.muted
}

// Close implements mediaengine.Stream.
func (s *tokenStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ mediaengine.Engine = (*Engine)(nil)

package waveline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wavelinehq/waveline-go/mediaengine"
	"github.com/wavelinehq/waveline-go/transport"
)

type fakeTransport struct {
	mu         sync.Mutex
	events     chan transport.RawEvent
	session    transport.Session
	notifies   []transport.Request
	requests   []transport.Request
	notifyErr  error
	requestErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan transport.RawEvent, 16),
		session: transport.Session{
			SessionID: "SES-test",
			UserID:    "USR-alice",
			UserName:  "alice",
		},
	}
}

func (f *fakeTransport) Events() <-chan transport.RawEvent { return f.events }
func (f *fakeTransport) Session() transport.Session        { return f.session }
func (f *fakeTransport) Close() error                      { return nil }

func (f *fakeTransport) Notify(_ context.Context, req transport.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.notifies = append(f.notifies, req)
	return nil
}

func (f *fakeTransport) Request(_ context.Context, req transport.Request) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	f.requests = append(f.requests, req)
	return json.RawMessage(`{}`), nil
}

func (f *fakeTransport) sentRequests() []transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Request(nil), f.requests...)
}

type fakeStream struct {
	enabled bool
	closed  bool
}

func (s *fakeStream) SetAudioEnabled(enabled bool) { s.enabled = enabled }
func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakePC struct{ closed bool }

func (p *fakePC) Close() error {
	p.closed = true
	return nil
}

type fakeEngine struct {
	seq          int
	negotiateErr error
	streams      []*fakeStream
}

func (e *fakeEngine) Negotiate(_ context.Context, _, _ string) (*mediaengine.Leg, error) {
	if e.negotiateErr != nil {
		return nil, e.negotiateErr
	}
	e.seq++
	stream := &fakeStream{enabled: true}
	e.streams = append(e.streams, stream)
	return &mediaengine.Leg{
		RTCID:  fmt.Sprintf("RTC-%d", e.seq),
		PC:     &fakePC{},
		Stream: stream,
	}, nil
}

func (e *fakeEngine) Hangup(_ context.Context, _, _ string) error { return nil }

func newTestApp(t *testing.T) (*Application, *fakeTransport, *fakeEngine) {
	t.Helper()

	tr := newFakeTransport()
	engine := &fakeEngine{}
	nop := zerolog.Nop()
	app := New(Options{Transport: tr, Engine: engine, Logger: &nop})
	return app, tr, engine
}

// addTestConversation registers a conversation with alice (me) and bob as
// joined members.
func addTestConversation(t *testing.T, app *Application, id string) *Conversation {
	t.Helper()

	conv := newConversation(app, conversationPayload{
		ID: id,
		Members: []*Member{
			{ID: "MEM-alice", User: User{ID: "USR-alice", Name: "alice"}, State: MemberStateJoined},
			{ID: "MEM-bob", User: User{ID: "USR-bob", Name: "bob"}, State: MemberStateJoined},
		},
	})
	return app.addConversation(conv)
}

func rawEvent(t *testing.T, evType, cid, from string, id int64, body any) transport.RawEvent {
	t.Helper()

	raw := transport.RawEvent{
		Type:      evType,
		CID:       cid,
		From:      from,
		ID:        id,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		raw.Body = data
	}
	return raw
}

func mustDecode(t *testing.T, raw transport.RawEvent) *Event {
	t.Helper()

	ev, err := decodeEvent(raw)
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return ev
}

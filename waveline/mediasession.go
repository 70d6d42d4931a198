package waveline

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wavelinehq/waveline-go/mediaengine"
	"github.com/wavelinehq/waveline-go/transport"
)

// Leg is one tracked media connection within the session.
type Leg struct {
	ID          string
	PC          mediaengine.PeerConnection
	Stream      mediaengine.Stream
	Type        string
	StreamIndex int
}

// MediaSession does the per-conversation media bookkeeping: which legs are
// live, whether local audio is muted or earmuffed. The actual offer/answer
// exchange is the engine's job.
type MediaSession struct {
	conv *Conversation
	log  zerolog.Logger

	legs        map[string]*Leg
	streamIndex int
	muted       bool
	earmuffed   bool
}

func newMediaSession(conv *Conversation) *MediaSession {
	return &MediaSession{
		conv: conv,
		log:  conv.log.With().Str("component", "media").Logger(),
		legs: make(map[string]*Leg),
	}
}

// Legs returns a snapshot of the tracked legs keyed by rtc id.
func (m *MediaSession) Legs() map[string]*Leg {
	out := make(map[string]*Leg, len(m.legs))
	for id, leg := range m.legs {
		out[id] = leg
	}
	return out
}

// Muted reports the local mute state.
func (m *MediaSession) Muted() bool { return m.muted }

// Earmuffed reports the local earmuff state.
func (m *MediaSession) Earmuffed() bool { return m.earmuffed }

// Enable negotiates one leg through the engine and registers it. The
// returned stream is the live local media handle.
func (m *MediaSession) Enable(ctx context.Context) (mediaengine.Stream, error) {
	engine := m.conv.app.engine
	if engine == nil {
		return nil, ErrMediaUnavailable
	}
	memberID := ""
	if me := m.conv.Me(); me != nil {
		memberID = me.ID
	}

	negotiated, err := engine.Negotiate(ctx, m.conv.ID, memberID)
	if err != nil {
		return nil, &MediaError{Op: "enable", Err: err}
	}

	m.streamIndex++
	m.legs[negotiated.RTCID] = &Leg{
		ID:          negotiated.RTCID,
		PC:          negotiated.PC,
		Stream:      negotiated.Stream,
		Type:        "audio",
		StreamIndex: m.streamIndex,
	}
	m.log.Debug().Str("rtc_id", negotiated.RTCID).Int("stream_index", m.streamIndex).Msg("media enabled")
	return negotiated.Stream, nil
}

// Disable tears the session down. Every tracked leg is terminated against
// the service concurrently; local resources are released for each leg no
// matter how its network call went. The aggregate error covers only the
// network portion.
func (m *MediaSession) Disable(ctx context.Context) error {
	legs := m.legs
	m.legs = make(map[string]*Leg)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, leg := range legs {
		wg.Add(1)
		go func(leg *Leg) {
			defer wg.Done()
			if err := m.terminateLeg(ctx, leg); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(leg)
	}
	wg.Wait()

	if joined := errors.Join(errs...); joined != nil {
		return &MediaError{Op: "disable", Err: joined}
	}
	return nil
}

func (m *MediaSession) terminateLeg(ctx context.Context, leg *Leg) error {
	// Local cleanup always runs, even when the service call fails.
	defer func() {
		if leg.Stream != nil {
			_ = leg.Stream.Close()
		}
		if leg.PC != nil {
			_ = leg.PC.Close()
		}
	}()

	_, err := m.conv.app.transport.Request(ctx, transport.Request{
		Type: "rtc:terminate",
		CID:  m.conv.ID,
		Body: map[string]string{"rtc_id": leg.ID},
	})
	if err != nil {
		m.log.Warn().Err(err).Str("rtc_id", leg.ID).Msg("leg termination failed")
	}
	return err
}

// Mute toggles the local audio tracks and notifies the conversation. The
// toggle is optimistic; if the notification cannot be sent it is rolled back
// before the error is returned.
func (m *MediaSession) Mute(ctx context.Context, mute bool) (err error) {
	previous := m.muted
	m.setAudioEnabled(!mute)
	m.muted = mute
	defer func() {
		if err != nil {
			m.muted = previous
			m.setAudioEnabled(!previous)
		}
	}()

	evType := EventAudioMuteOff
	if mute {
		evType = EventAudioMuteOn
	}
	return m.notifyAudioState(ctx, evType)
}

// Earmuff toggles deafening of the local user, with the same optimistic
// toggle and rollback as Mute.
func (m *MediaSession) Earmuff(ctx context.Context, on bool) (err error) {
	previous := m.earmuffed
	m.earmuffed = on
	defer func() {
		if err != nil {
			m.earmuffed = previous
		}
	}()

	evType := EventAudioEarmuffOff
	if on {
		evType = EventAudioEarmuffOn
	}
	return m.notifyAudioState(ctx, evType)
}

func (m *MediaSession) notifyAudioState(ctx context.Context, evType EventType) error {
	memberID := ""
	if me := m.conv.Me(); me != nil {
		memberID = me.ID
	}
	return m.conv.app.transport.Notify(ctx, transport.Request{
		Type: string(evType),
		CID:  m.conv.ID,
		Body: map[string]string{"member_id": memberID},
	})
}

func (m *MediaSession) setAudioEnabled(enabled bool) {
	for _, leg := range m.legs {
		if leg.Stream != nil {
			leg.Stream.SetAudioEnabled(enabled)
		}
	}
}

// onMemberLeft releases everything when the departing member was the last
// one holding active legs locally.
func (m *MediaSession) onMemberLeft(member *Member) {
	if len(m.legs) == 0 {
		return
	}
	me := m.conv.Me()
	if me == nil || member.ID != me.ID {
		return
	}
	m.releaseAll()
}

func (m *MediaSession) releaseAll() {
	for id, leg := range m.legs {
		if leg.Stream != nil {
			_ = leg.Stream.Close()
		}
		if leg.PC != nil {
			_ = leg.PC.Close()
		}
		delete(m.legs, id)
	}
	m.log.Debug().Msg("media session released")
}

// adoptFrom copies session state the receiver is missing from another
// session, used when a call is transferred between conversations.
func (m *MediaSession) adoptFrom(other *MediaSession) {
	for id, leg := range other.legs {
		if _, ok := m.legs[id]; !ok {
			m.legs[id] = leg
		}
	}
	if other.streamIndex > m.streamIndex {
		m.streamIndex = other.streamIndex
	}
	m.muted = other.muted
	m.earmuffed = other.earmuffed
	other.legs = make(map[string]*Leg)
}

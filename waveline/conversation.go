package waveline

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wavelinehq/waveline-go/transport"
)

// Conversation holds the mutable state of one conversation: the member
// roster, the event log and the media session. All mutation happens on the
// application's event loop.
type Conversation struct {
	*Emitter

	app *Application
	log zerolog.Logger

	ID          string
	Name        string
	DisplayName string

	sequence   int64
	members    map[string]*Member
	events     map[int64]*Event
	eventOrder []int64

	me    *Member
	media *MediaSession
}

// conversationPayload is the service's REST representation.
type conversationPayload struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Sequence    int64     `json:"sequence_number"`
	Members     []*Member `json:"members"`
}

func newConversation(app *Application, payload conversationPayload) *Conversation {
	c := &Conversation{
		Emitter: newEmitter(),
		app:     app,
		log:     app.log.With().Str("cid", payload.ID).Logger(),
		ID:      payload.ID,
		members: make(map[string]*Member),
		events:  make(map[int64]*Event),
	}
	c.media = newMediaSession(c)
	c.applyPayload(payload)
	return c
}

// applyPayload folds a service payload into the conversation. Safe to call
// repeatedly: the service is the source of truth for roster data.
func (c *Conversation) applyPayload(payload conversationPayload) {
	c.Name = payload.Name
	c.DisplayName = payload.DisplayName
	if payload.Sequence > c.sequence {
		c.sequence = payload.Sequence
	}
	for _, m := range payload.Members {
		existing, ok := c.members[m.ID]
		if !ok {
			m.Emitter = newEmitter()
			if m.Timestamps == nil {
				m.Timestamps = make(map[MemberState]time.Time)
			}
			c.members[m.ID] = m
			existing = m
		} else {
			existing.User = m.User
			existing.State = m.State
			existing.Channel = m.Channel
			for k, v := range m.Timestamps {
				existing.Timestamps[k] = v
			}
		}
		c.repointMe(existing)
	}
}

// repointMe keeps the me back-reference on the member that carries the local
// user's membership, which can change id (accepting an invite creates a new
// membership).
func (c *Conversation) repointMe(m *Member) {
	if !c.app.isSelf(m.User) {
		return
	}
	if c.me == nil || c.me.ID != m.ID {
		c.me = m
	}
}

// Me returns the local user's member, nil until joined or invited.
func (c *Conversation) Me() *Member { return c.me }

// Media returns the conversation's media session.
func (c *Conversation) Media() *MediaSession { return c.media }

// SequenceNumber returns the last processed event sequence.
func (c *Conversation) SequenceNumber() int64 { return c.sequence }

// Member returns the member with the given id, nil when unknown.
func (c *Conversation) Member(id string) *Member { return c.members[id] }

// Members returns a snapshot of the roster keyed by member id.
func (c *Conversation) Members() map[string]*Member {
	out := make(map[string]*Member, len(c.members))
	for id, m := range c.members {
		out[id] = m
	}
	return out
}

// EventLog returns the logged events in insertion order.
func (c *Conversation) EventLog() []*Event {
	out := make([]*Event, 0, len(c.eventOrder))
	for _, id := range c.eventOrder {
		out = append(out, c.events[id])
	}
	return out
}

// processEvent classifies one inbound event, applies it to conversation and
// member state, registers it in the event log and emits it. RTC events skip
// all of that and are re-emitted untouched for the media session and call
// state machine. The resolved sender and constructed event are returned for
// application-level post-processing.
func (c *Conversation) processEvent(ctx context.Context, raw transport.RawEvent) (*Event, *Member, error) {
	ev, err := decodeEvent(raw)
	if err != nil {
		return nil, nil, err
	}

	if ev.Type.IsRTC() {
		c.Emit(ev.Type.emitName(), ev)
		return ev, c.members[ev.From], nil
	}

	if !ev.Type.isTyping() {
		c.sequence++
	}

	member := c.ensureMember(ev)

	if err := c.applyEvent(ctx, ev, member); err != nil {
		return nil, nil, err
	}

	if !ev.Type.isTyping() {
		c.registerEvent(ev)
		c.app.persistEvent(ctx, c, ev)
	}

	c.Emit(ev.Type.emitName(), member, c.typedEvent(ev))
	return ev, member, nil
}

// ensureMember resolves the sender, constructing a member from the event
// payload when the roster does not know them yet.
func (c *Conversation) ensureMember(ev *Event) *Member {
	if ev.From == "" {
		return nil
	}
	m, ok := c.members[ev.From]
	if !ok {
		m = newMemberFromEvent(ev)
		c.members[ev.From] = m
	}
	if ev.Body.User != nil {
		m.User = *ev.Body.User
		c.repointMe(m)
	}
	return m
}

// applyEvent runs the type-specific side effects. The switch is exhaustive
// over the closed event set; anything else is a custom event with no model
// side effects.
func (c *Conversation) applyEvent(ctx context.Context, ev *Event, member *Member) error {
	switch ev.Type {
	case EventMemberInvited, EventMemberJoined, EventMemberLeft:
		if member != nil {
			member.applyEvent(ev)
			c.repointMe(member)
			if ev.Type == EventMemberLeft {
				c.media.onMemberLeft(member)
			}
		}

	case EventMemberMedia:
		if member != nil && ev.Body.Channel != nil {
			member.Channel = ev.Body.Channel
		}

	case EventAudioMuteOn, EventAudioMuteOff, EventAudioEarmuffOn, EventAudioEarmuffOff, EventAudioDTMF:
		// Presence-style notifications; no model mutation beyond the log.

	case EventTextDelivered, EventImageDelivered:
		c.markReferenced(ev, func(target *Event) {
			if target.State.DeliveredTo == nil {
				target.State.DeliveredTo = make(map[string]time.Time)
			}
			target.State.DeliveredTo[ev.From] = ev.Timestamp
		})

	case EventTextSeen, EventImageSeen:
		c.markReferenced(ev, func(target *Event) {
			if target.State.SeenBy == nil {
				target.State.SeenBy = make(map[string]time.Time)
			}
			target.State.SeenBy[ev.From] = ev.Timestamp
		})

	case EventDelete:
		c.markReferenced(ev, func(target *Event) {
			target.Body = EventBody{}
		})

	case EventText, EventImage, EventTypingOn, EventTypingOff:
		// Construction-only types; the typed view is built at emission.

	case EventKnockingDeleteSuccess:
		// Consumed by the call state machine via post-processing.

	default:
		if !ev.Type.IsCustom() {
			c.log.Debug().Str("type", string(ev.Type)).Msg("unhandled event type")
		}
	}
	return nil
}

// markReferenced resolves the event referenced by body.event_id and applies
// fn to it. A dangling reference is dropped quietly; the log may simply not
// reach back that far.
func (c *Conversation) markReferenced(ev *Event, fn func(*Event)) {
	id, err := strconv.ParseInt(ev.Body.EventID, 10, 64)
	if err != nil {
		return
	}
	if target, ok := c.events[id]; ok {
		fn(target)
	}
}

func (c *Conversation) registerEvent(ev *Event) {
	if _, ok := c.events[ev.ID]; !ok {
		c.eventOrder = append(c.eventOrder, ev.ID)
	}
	c.events[ev.ID] = ev
}

// typedEvent wraps text and image events in their typed views; everything
// else is emitted as the plain event.
func (c *Conversation) typedEvent(ev *Event) any {
	switch ev.Type {
	case EventText:
		return TextEvent{ev}
	case EventImage:
		return ImageEvent{ev}
	default:
		return ev
	}
}

// --- messaging and membership operations ---

// SendText sends a text message event.
func (c *Conversation) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	_, err := c.app.transport.Request(ctx, transport.Request{
		Type: string(EventText),
		CID:  c.ID,
		Body: map[string]string{"text": text},
	})
	return err
}

// SendImage sends an image event referencing already-uploaded
// representations.
func (c *Conversation) SendImage(ctx context.Context, reps *ImageRepresentations) error {
	if reps == nil {
		return ErrEmptyText
	}
	_, err := c.app.transport.Request(ctx, transport.Request{
		Type: string(EventImage),
		CID:  c.ID,
		Body: map[string]any{"representations": reps},
	})
	return err
}

// DeleteEvent asks the service to delete a logged event.
func (c *Conversation) DeleteEvent(ctx context.Context, ev *Event) error {
	_, err := c.app.transport.Request(ctx, transport.Request{
		Type: string(EventDelete),
		CID:  c.ID,
		Body: map[string]string{"event_id": strconv.FormatInt(ev.ID, 10)},
	})
	return err
}

// MarkSeen reports the local user has seen a message event.
func (c *Conversation) MarkSeen(ctx context.Context, ev *Event) error {
	evType := EventTextSeen
	if ev.Type == EventImage {
		evType = EventImageSeen
	}
	return c.app.transport.Notify(ctx, transport.Request{
		Type: string(evType),
		CID:  c.ID,
		Body: map[string]string{"event_id": strconv.FormatInt(ev.ID, 10)},
	})
}

// MarkDelivered reports the local user has received a message event.
func (c *Conversation) MarkDelivered(ctx context.Context, ev *Event) error {
	evType := EventTextDelivered
	if ev.Type == EventImage {
		evType = EventImageDelivered
	}
	return c.app.transport.Notify(ctx, transport.Request{
		Type: string(evType),
		CID:  c.ID,
		Body: map[string]string{"event_id": strconv.FormatInt(ev.ID, 10)},
	})
}

// StartTyping raises the typing indicator, fire-and-forget.
func (c *Conversation) StartTyping(ctx context.Context) error {
	return c.app.transport.Notify(ctx, transport.Request{Type: string(EventTypingOn), CID: c.ID})
}

// StopTyping lowers the typing indicator.
func (c *Conversation) StopTyping(ctx context.Context) error {
	return c.app.transport.Notify(ctx, transport.Request{Type: string(EventTypingOff), CID: c.ID})
}

// Join creates or confirms the local user's membership.
func (c *Conversation) Join(ctx context.Context) error {
	_, err := c.app.transport.Request(ctx, transport.Request{
		Type: "member:join",
		CID:  c.ID,
		Body: map[string]string{"user_name": c.app.me.UserName},
	})
	return err
}

// Invite adds a user to the conversation by name.
func (c *Conversation) Invite(ctx context.Context, userName string) error {
	return c.invite(ctx, userName, false)
}

// InviteWithAudio invites a user with the audio capability set, the invite
// shape that announces a call.
func (c *Conversation) InviteWithAudio(ctx context.Context, userName string) error {
	return c.invite(ctx, userName, true)
}

func (c *Conversation) invite(ctx context.Context, userName string, audio bool) error {
	if strings.TrimSpace(userName) == "" {
		return ErrMissingInvitee
	}
	body := map[string]any{"user_name": userName}
	if audio {
		body["media"] = MediaState{Audio: true}
	}
	_, err := c.app.transport.Request(ctx, transport.Request{
		Type: "member:invite",
		CID:  c.ID,
		Body: body,
	})
	return err
}

// Leave removes the local membership; the member is marked LEFT when the
// member:left event comes back.
func (c *Conversation) Leave(ctx context.Context) error {
	me := c.me
	if me == nil {
		return ErrNotAMember
	}
	return c.app.transport.Notify(ctx, transport.Request{
		Type: "member:delete",
		CID:  c.ID,
		Body: map[string]string{"member_id": me.ID},
	})
}

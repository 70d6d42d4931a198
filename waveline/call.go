package waveline

import (
	"context"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/wavelinehq/waveline-go/transport"
)

var dtmfDigits = regexp.MustCompile(`^[0-9a-dA-D*#p]+$`)

// Call tracks one voice call. Its status only ever moves through
// setStatus, which enforces the permitted-flow table; events feed it via
// handleEvent.
type Call struct {
	*Emitter

	app *Application
	log zerolog.Logger

	// Direction is fixed at creation and never changes.
	Direction Direction

	// From is the initiating member; To snapshots the other conversation
	// members at binding time.
	From *Member
	To   map[string]*Member

	conversation *Conversation
	status       CallStatus

	// id is the active RTC leg id, captured from rtc:answer or a local
	// member:media event.
	id string

	// knockingID correlates a draft call with the member:joined event that
	// will bind it to a conversation.
	knockingID string
}

func newCall(app *Application, conv *Conversation, direction Direction) *Call {
	c := &Call{
		Emitter:   newEmitter(),
		app:       app,
		log:       app.log.With().Str("component", "call").Logger(),
		Direction: direction,
		To:        make(map[string]*Member),
	}
	if conv != nil {
		c.attachConversation(conv)
	}
	return c
}

func newDraftCall(app *Application, knockingID string) *Call {
	c := newCall(app, nil, DirectionOutbound)
	c.knockingID = knockingID
	return c
}

// attachConversation binds the call to its conversation and snapshots the
// member roster into From/To.
func (c *Call) attachConversation(conv *Conversation) {
	c.conversation = conv
	c.log = c.log.With().Str("cid", conv.ID).Logger()
	if me := conv.Me(); me != nil {
		if c.Direction == DirectionOutbound {
			c.From = me
		}
	}
	c.snapshotPeers()
}

func (c *Call) snapshotPeers() {
	for id, m := range c.conversation.members {
		if c.From != nil && id == c.From.ID {
			continue
		}
		c.To[id] = m
	}
}

// Status returns the current call status; empty until the first transition.
func (c *Call) Status() CallStatus { return c.status }

// Conversation returns the owning conversation, nil for an unbound draft.
func (c *Call) Conversation() *Conversation { return c.conversation }

// ID returns the active RTC leg id, empty until a leg is established.
func (c *Call) ID() string { return c.id }

// KnockingID returns the correlation id of a draft call.
func (c *Call) KnockingID() string { return c.knockingID }

// setStatus is the single mutation point for the call status. An invalid
// transition is reported and absorbed: the status stays untouched and no
// notification fires. On success the status-changed notification is emitted
// on the owning application.
func (c *Call) setStatus(to CallStatus) bool {
	if !c.status.canTransitionTo(to) {
		c.log.Warn().
			Str("from", string(c.status)).
			Str("to", string(to)).
			Msg("invalid call status transition")
		return false
	}
	c.status = to
	if c.conversation != nil {
		if me := c.conversation.Me(); me != nil {
			me.CallStatus = to
		}
	}
	c.app.Emit(EventCallStatusChanged.emitName(), c)
	return true
}

// handleEvent advances the status from one inbound event. Event types the
// state machine does not care about are ignored without error; the only
// error path is a failed media enable, reported after the FAILED transition.
func (c *Call) handleEvent(ctx context.Context, ev *Event) error {
	switch ev.Type {
	case EventMemberJoined:
		if ev.Body.Channel == nil || ev.Body.Channel.KnockingID == "" {
			return nil
		}
		if _, err := c.conversation.Media().Enable(ctx); err != nil {
			c.setStatus(CallStatusFailed)
			return err
		}
		c.setStatus(CallStatusStarted)

	case EventMemberInvited:
		if ev.Body.InvitedBy == "" && ev.Body.Media != nil && ev.Body.Media.Audio {
			c.setStatus(CallStatusStarted)
		}

	case EventRTCHangup:
		if c.status == CallStatusAnswered {
			c.setStatus(CallStatusCompleted)
			return nil
		}
		c.setStatus(c.unansweredOrRejected(ev))

	case EventMemberLeft:
		_, joined := ev.Body.Timestamp["joined"]
		if !joined && c.status != CallStatusAnswered {
			c.setStatus(c.unansweredOrRejected(ev))
		}

	case EventMemberMedia:
		if ev.Body.Media == nil || !ev.Body.Media.Audio || c.status == CallStatusAnswered {
			return nil
		}
		fromMe := c.isFromMe(ev)
		if fromMe && ev.Body.Channel != nil && ev.Body.Channel.ID != "" {
			c.id = ev.Body.Channel.ID
		}
		// With several simultaneous legs the answered transition can
		// attach to the wrong leg; callers fanning out legs must not
		// rely on c.id before the call settles.
		if c.id != "" && !(fromMe && c.Direction == DirectionOutbound) {
			c.setStatus(CallStatusAnswered)
		}

	case EventSIPRinging:
		if c.status != CallStatusRinging {
			c.setStatus(CallStatusRinging)
		}

	case EventSIPHangup:
		if ev.Body.Reason == nil {
			return nil
		}
		switch ev.Body.Reason.Code {
		case 486:
			c.setStatus(CallStatusBusy)
		case 487:
			c.setStatus(CallStatusTimeout)
		case 403:
			c.setStatus(CallStatusFailed)
		default:
		}

	case EventKnockingDeleteSuccess:
		c.setStatus(CallStatusUnanswered)

	default:
	}
	return nil
}

// unansweredOrRejected disambiguates an early hangup: a hangup by the party
// that could still have been waiting (local for outbound, remote for
// inbound) means nobody answered; anything else is a rejection.
func (c *Call) unansweredOrRejected(ev *Event) CallStatus {
	fromMe := c.isFromMe(ev)
	if (c.Direction == DirectionOutbound && fromMe) || (c.Direction == DirectionInbound && !fromMe) {
		return CallStatusUnanswered
	}
	return CallStatusRejected
}

func (c *Call) isFromMe(ev *Event) bool {
	if c.conversation == nil {
		return false
	}
	me := c.conversation.Me()
	return me != nil && ev.From == me.ID
}

// Answer accepts an inbound call: join the conversation, then bring media up.
func (c *Call) Answer(ctx context.Context) error {
	if c.conversation == nil {
		return ErrNoConversation
	}
	if err := c.conversation.Join(ctx); err != nil {
		return err
	}
	_, err := c.conversation.Media().Enable(ctx)
	return err
}

// Hangup ends the call from the local side. For a draft call the knocking is
// cancelled over REST; the resulting knocking:delete:success event moves the
// status to unanswered. For a bound call the media session is torn down and
// the service's rtc:hangup does the rest.
func (c *Call) Hangup(ctx context.Context) error {
	if c.conversation == nil {
		if c.knockingID == "" {
			return ErrNoConversation
		}
		_, err := c.app.rest.Delete(ctx, "/knocking/"+c.knockingID)
		return err
	}
	return c.conversation.Media().Disable(ctx)
}

// Reject declines an inbound call by removing the local membership.
func (c *Call) Reject(ctx context.Context) error {
	if c.conversation == nil {
		return ErrNoConversation
	}
	me := c.conversation.Me()
	if me == nil {
		return ErrNotAMember
	}
	return c.app.transport.Notify(ctx, transport.Request{
		Type: "member:delete",
		CID:  c.conversation.ID,
		Body: map[string]string{"member_id": me.ID},
	})
}

// SendDTMF sends dial tones on the active leg. Digits are validated before
// anything goes on the wire.
func (c *Call) SendDTMF(ctx context.Context, digits string) error {
	if digits == "" || !dtmfDigits.MatchString(digits) {
		return ErrInvalidDTMF
	}
	if c.conversation == nil {
		return ErrNoConversation
	}
	return c.app.transport.Notify(ctx, transport.Request{
		Type: string(EventAudioDTMF),
		CID:  c.conversation.ID,
		Body: map[string]string{"digit": digits, "rtc_id": c.id},
	})
}

package waveline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wavelinehq/waveline-go/internal/cache"
	"github.com/wavelinehq/waveline-go/mediaengine"
	"github.com/wavelinehq/waveline-go/rest"
	"github.com/wavelinehq/waveline-go/transport"
)

var phoneNumber = regexp.MustCompile(`^\+?[0-9]{3,15}$`)

// callConversationPrefix marks conversations created to carry a call.
const callConversationPrefix = "CALL_"

// Options wires an Application to its collaborators. Transport and REST are
// required; Engine and Cache are optional.
type Options struct {
	Transport transport.Transport
	REST      *rest.Client
	Engine    mediaengine.Engine
	Cache     cache.Cache
	Logger    *zerolog.Logger
}

// Application is the SDK entry point: it owns the conversation map, the live
// and draft call maps and the top-of-pipeline event router. Inbound events
// are processed strictly in arrival order by Run's goroutine.
type Application struct {
	*Emitter

	log       *zerolog.Logger
	me        transport.Session
	transport transport.Transport
	rest      *rest.Client
	engine    mediaengine.Engine
	cache     cache.Cache

	rtc *rtcHandler
	sip *sipHandler

	mu            sync.Mutex
	conversations map[string]*Conversation
	calls         map[string]*Call
	draftCalls    map[string]*Call
}

// New constructs an Application around an established transport session.
func New(opts Options) *Application {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	a := &Application{
		Emitter:       newEmitter(),
		log:           logger,
		me:            opts.Transport.Session(),
		transport:     opts.Transport,
		rest:          opts.REST,
		engine:        opts.Engine,
		cache:         opts.Cache,
		conversations: make(map[string]*Conversation),
		calls:         make(map[string]*Call),
		draftCalls:    make(map[string]*Call),
	}
	a.rtc = newRTCHandler(a)
	a.sip = newSIPHandler(a)
	return a
}

// Me returns the logged-in identity.
func (a *Application) Me() transport.Session { return a.me }

func (a *Application) isSelf(u User) bool {
	if u.ID != "" && u.ID == a.me.UserID {
		return true
	}
	return u.Name != "" && u.Name == a.me.UserName
}

// Run consumes the transport's event stream until the context is cancelled
// or the stream closes. Each event runs to completion before the next one
// touches shared state.
func (a *Application) Run(ctx context.Context) error {
	events := a.transport.Events()
	for {
		select {
		case raw, ok := <-events:
			if !ok {
				return nil
			}
			a.routeEvent(ctx, raw)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// routeEvent is the top of the inbound pipeline. SIP events skip the
// conversation lookup; everything else is dispatched against its (possibly
// freshly fetched) conversation.
func (a *Application) routeEvent(ctx context.Context, raw transport.RawEvent) {
	evType := EventType(raw.Type)

	if evType.IsSIP() {
		a.sip.handle(ctx, raw)
		return
	}

	// A cancelled knocking has no conversation to dispatch against; route it
	// straight to the draft call it confirms.
	if evType == EventKnockingDeleteSuccess && a.Conversation(raw.CID) == nil {
		ev, err := decodeEvent(raw)
		if err != nil {
			a.log.Warn().Err(err).Str("type", raw.Type).Msg("malformed event dropped")
			return
		}
		knockingID := raw.CID
		if ev.Body.Channel != nil && ev.Body.Channel.KnockingID != "" {
			knockingID = ev.Body.Channel.KnockingID
		}
		if call := a.takeDraft(knockingID); call != nil {
			_ = call.handleEvent(ctx, ev)
		}
		return
	}

	conv := a.Conversation(raw.CID)
	if conv == nil {
		fetched, err := a.fetchConversation(ctx, raw.CID)
		if err != nil {
			a.log.Warn().Err(err).Str("cid", raw.CID).Str("type", raw.Type).
				Msg("conversation fetch failed, event dropped")
			return
		}
		conv = fetched
	}

	ev, member, err := conv.processEvent(ctx, raw)
	if err != nil {
		a.log.Warn().Err(err).Str("cid", raw.CID).Str("type", raw.Type).Msg("malformed event dropped")
		return
	}

	if evType.IsRTC() {
		a.rtc.handle(ctx, conv, ev)
		return
	}

	a.postProcess(ctx, conv, ev, member)

	// Any call bound to this conversation sees every non-RTC event; the
	// state machine decides what drives a transition.
	if call := a.CallForConversation(conv.ID); call != nil {
		if err := call.handleEvent(ctx, ev); err != nil {
			a.log.Warn().Err(err).Str("cid", conv.ID).Str("type", raw.Type).Msg("call event handling failed")
			a.Emit("error", err)
		}
	}
}

// postProcess covers the conversation-crossing effects: binding a draft call
// on the local user's knocking join and creating an inbound call from a
// call-shaped invite.
func (a *Application) postProcess(ctx context.Context, conv *Conversation, ev *Event, member *Member) {
	if member == nil || !a.isSelf(member.User) {
		return
	}

	switch ev.Type {
	case EventMemberJoined:
		if ev.Body.Channel == nil || ev.Body.Channel.KnockingID == "" {
			return
		}
		call := a.takeDraft(ev.Body.Channel.KnockingID)
		if call == nil {
			return
		}
		call.attachConversation(conv)
		call.knockingID = ""
		a.setCall(conv.ID, call)

	case EventMemberInvited:
		pstn := ev.Body.InvitedBy == ""
		callShaped := strings.HasPrefix(conv.DisplayName, callConversationPrefix)
		audio := ev.Body.Media != nil && ev.Body.Media.Audio
		if !audio || (!pstn && !callShaped) {
			return
		}

		call := newCall(a, conv, DirectionInbound)
		if inviter := conv.Member(ev.Body.InvitedBy); inviter != nil {
			call.From = inviter
			delete(call.To, inviter.ID)
		}
		a.setCall(conv.ID, call)
		a.Emit(EventMemberCall.emitName(), member, call)

	default:
	}
}

// --- conversation and call registries ---

// Conversation returns a known conversation by id, nil otherwise.
func (a *Application) Conversation(id string) *Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversations[id]
}

// Conversations returns a snapshot of the known conversations.
func (a *Application) Conversations() map[string]*Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]*Conversation, len(a.conversations))
	for id, c := range a.conversations {
		out[id] = c
	}
	return out
}

// CallForConversation returns the live call bound to a conversation id.
func (a *Application) CallForConversation(cid string) *Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[cid]
}

// Calls returns a snapshot of the live calls keyed by conversation id.
func (a *Application) Calls() map[string]*Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]*Call, len(a.calls))
	for id, c := range a.calls {
		out[id] = c
	}
	return out
}

// DraftCalls returns a snapshot of calls still waiting for a conversation.
func (a *Application) DraftCalls() map[string]*Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]*Call, len(a.draftCalls))
	for id, c := range a.draftCalls {
		out[id] = c
	}
	return out
}

func (a *Application) addConversation(conv *Conversation) *Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.conversations[conv.ID]; ok {
		return existing
	}
	a.conversations[conv.ID] = conv
	return conv
}

func (a *Application) setCall(cid string, call *Call) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[cid] = call
}

// moveCall reassigns a call between conversation keys in one step, so the
// map never exposes the same call under two keys.
func (a *Application) moveCall(fromCID, toCID string) *Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	call, ok := a.calls[fromCID]
	if !ok {
		return nil
	}
	delete(a.calls, fromCID)
	a.calls[toCID] = call
	return call
}

func (a *Application) takeDraft(knockingID string) *Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	call, ok := a.draftCalls[knockingID]
	if !ok {
		return nil
	}
	delete(a.draftCalls, knockingID)
	return call
}

func (a *Application) draftByKnockingID(knockingID string) *Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.draftCalls[knockingID]
}

// --- service access ---

// GetConversation returns the conversation, fetching it from the service on
// first reference.
func (a *Application) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	if conv := a.Conversation(id); conv != nil {
		return conv, nil
	}
	return a.fetchConversation(ctx, id)
}

func (a *Application) fetchConversation(ctx context.Context, id string) (*Conversation, error) {
	if id == "" {
		return nil, fmt.Errorf("empty conversation id")
	}
	raw, err := a.rest.Get(ctx, "/conversations/"+id)
	if err != nil {
		return nil, err
	}
	var payload conversationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	if payload.ID == "" {
		payload.ID = id
	}

	conv := a.addConversation(newConversation(a, payload))
	a.persistConversation(ctx, conv)
	return conv, nil
}

// CallServer places a call to a phone number (or any server-terminated
// endpoint). The returned call is a draft: it has no conversation until the
// service answers the knocking with a member:joined event.
func (a *Application) CallServer(ctx context.Context, number string) (*Call, error) {
	if !phoneNumber.MatchString(number) {
		return nil, ErrInvalidTarget
	}

	raw, err := a.rest.Post(ctx, "/knocking", map[string]any{
		"channel": Channel{
			Type: "phone",
			From: &Endpoint{Type: "app", User: a.me.UserName},
			To:   &Endpoint{Type: "phone", Number: number},
		},
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.ID == "" {
		return nil, fmt.Errorf("knocking response missing id")
	}

	call := newDraftCall(a, body.ID)
	a.mu.Lock()
	a.draftCalls[body.ID] = call
	a.mu.Unlock()

	a.log.Info().Str("knocking_id", body.ID).Msg("server call started")
	return call, nil
}

// Call places an outbound call to one or more users: a fresh call-shaped
// conversation is created, the peers are invited with audio, and local media
// is brought up.
func (a *Application) Call(ctx context.Context, userNames []string) (*Call, error) {
	if len(userNames) == 0 {
		return nil, ErrMissingInvitee
	}
	for _, name := range userNames {
		if strings.TrimSpace(name) == "" {
			return nil, ErrMissingInvitee
		}
	}

	displayName := callConversationPrefix + uuid.NewString()
	raw, err := a.rest.Post(ctx, "/conversations", map[string]string{"display_name": displayName})
	if err != nil {
		return nil, err
	}
	var payload conversationPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ID == "" {
		return nil, fmt.Errorf("conversation response missing id")
	}
	if payload.DisplayName == "" {
		payload.DisplayName = displayName
	}

	conv := a.addConversation(newConversation(a, payload))
	if err := conv.Join(ctx); err != nil {
		return nil, err
	}
	for _, name := range userNames {
		if err := conv.InviteWithAudio(ctx, name); err != nil {
			return nil, err
		}
	}

	call := newCall(a, conv, DirectionOutbound)
	a.setCall(conv.ID, call)

	if _, err := conv.Media().Enable(ctx); err != nil {
		call.setStatus(CallStatusFailed)
		return call, err
	}
	call.setStatus(CallStatusStarted)
	return call, nil
}

// --- cache mirroring ---

func (a *Application) persistConversation(ctx context.Context, conv *Conversation) {
	if a.cache == nil {
		return
	}
	err := a.cache.UpsertConversation(ctx, &cache.Conversation{
		ID:             conv.ID,
		Name:           conv.Name,
		DisplayName:    conv.DisplayName,
		SequenceNumber: conv.SequenceNumber(),
	})
	if err != nil {
		a.log.Warn().Err(err).Str("cid", conv.ID).Msg("cache conversation write failed")
	}
}

// persistEvent mirrors a processed event to the local cache. Cache failures
// never fail event processing.
func (a *Application) persistEvent(ctx context.Context, conv *Conversation, ev *Event) {
	if a.cache == nil {
		return
	}
	body, err := json.Marshal(ev.Body)
	if err != nil {
		a.log.Warn().Err(err).Msg("cache event encode failed")
		return
	}
	err = a.cache.AppendEvent(ctx, &cache.Event{
		ID:             ev.ID,
		ConversationID: conv.ID,
		Type:           string(ev.Type),
		From:           ev.From,
		Body:           body,
		Timestamp:      ev.Timestamp,
	})
	if err != nil {
		a.log.Warn().Err(err).Str("cid", conv.ID).Int64("event_id", ev.ID).Msg("cache event write failed")
	}
	a.persistConversation(ctx, conv)
}

// Close releases the application's owned resources: the transport connection
// and the local cache.
func (a *Application) Close() error {
	var errs []error
	if err := a.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close application: %v", errs)
	}
	return nil
}

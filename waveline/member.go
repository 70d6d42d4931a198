package waveline

import "time"

// MemberState is the lifecycle state of a conversation member.
type MemberState string

const (
	MemberStateInvited MemberState = "INVITED"
	MemberStateJoined  MemberState = "JOINED"
	MemberStateLeft    MemberState = "LEFT"
)

// User is the service-side identity behind a member.
type User struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Member is one user's membership in a conversation. Members are created on
// first reference and never deleted; leaving marks them LEFT.
type Member struct {
	*Emitter `json:"-"`

	ID         string                     `json:"id"`
	User       User                       `json:"user"`
	State      MemberState                `json:"state,omitempty"`
	Timestamps map[MemberState]time.Time  `json:"timestamp,omitempty"`
	Channel    *Channel                   `json:"channel,omitempty"`

	// CallStatus mirrors the associated call's status when this member is
	// party to one; empty otherwise.
	CallStatus CallStatus `json:"call_status,omitempty"`

	// TransferredTo holds the destination conversation id after an RTC
	// transfer moved this member's call elsewhere.
	TransferredTo string `json:"transferred_to,omitempty"`
}

func newMember(id string, user User) *Member {
	return &Member{
		Emitter:    newEmitter(),
		ID:         id,
		User:       user,
		Timestamps: make(map[MemberState]time.Time),
	}
}

// newMemberFromEvent constructs a member from an inline event payload when
// the roster has not been fetched yet.
func newMemberFromEvent(ev *Event) *Member {
	m := newMember(ev.From, User{})
	if ev.Body.User != nil {
		m.User = *ev.Body.User
	}
	m.Channel = ev.Body.Channel
	return m
}

// applyEvent folds a member lifecycle event into the model. Application is
// idempotent: replaying the same event leaves the member unchanged.
func (m *Member) applyEvent(ev *Event) {
	if ev.Body.User != nil {
		m.User = *ev.Body.User
	}
	if ev.Body.Channel != nil {
		m.Channel = ev.Body.Channel
	}

	switch ev.Type {
	case EventMemberInvited:
		m.setState(MemberStateInvited, ev)
	case EventMemberJoined:
		m.setState(MemberStateJoined, ev)
	case EventMemberLeft:
		m.setState(MemberStateLeft, ev)
	default:
	}
}

func (m *Member) setState(state MemberState, ev *Event) {
	m.State = state
	if m.Timestamps == nil {
		m.Timestamps = make(map[MemberState]time.Time)
	}
	ts := ev.Timestamp
	if bodyTS, ok := ev.Body.Timestamp[stateTimestampKey(state)]; ok {
		ts = bodyTS
	}
	m.Timestamps[state] = ts
}

// hasJoined reports whether the member ever reached JOINED, regardless of the
// current state.
func (m *Member) hasJoined() bool {
	_, ok := m.Timestamps[MemberStateJoined]
	return ok
}

func stateTimestampKey(state MemberState) string {
	switch state {
	case MemberStateInvited:
		return "invited"
	case MemberStateJoined:
		return "joined"
	case MemberStateLeft:
		return "left"
	default:
		return ""
	}
}

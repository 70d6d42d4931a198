package waveline

import "github.com/samber/lo"

// CallStatus is the lifecycle status of a call. The values are part of the
// public contract and must stay stable.
type CallStatus string

const (
	CallStatusStarted    CallStatus = "started"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusAnswered   CallStatus = "answered"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusBusy       CallStatus = "busy"
	CallStatusTimeout    CallStatus = "timeout"
	CallStatusUnanswered CallStatus = "unanswered"
	CallStatusRejected   CallStatus = "rejected"
	CallStatusFailed     CallStatus = "failed"
)

// Direction tells who initiated the call relative to the local user.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// allowedTransitions is the permitted-flow table. A missing entry means the
// transition is rejected; terminal statuses map to an empty set.
var allowedTransitions = map[CallStatus][]CallStatus{
	CallStatusStarted: {
		CallStatusRinging, CallStatusAnswered, CallStatusFailed, CallStatusTimeout,
		CallStatusUnanswered, CallStatusRejected, CallStatusBusy,
	},
	CallStatusRinging: {
		CallStatusAnswered, CallStatusFailed, CallStatusTimeout,
		CallStatusUnanswered, CallStatusRejected, CallStatusBusy,
	},
	CallStatusAnswered: {CallStatusCompleted, CallStatusFailed},

	CallStatusCompleted:  {},
	CallStatusBusy:       {},
	CallStatusTimeout:    {},
	CallStatusUnanswered: {},
	CallStatusRejected:   {},
	CallStatusFailed:     {},
}

// canTransitionTo validates one step of the status flow. The empty status is
// the uninitialized state: its first assignment is always accepted. A
// transition to the current status is invalid, not an idempotent no-op.
func (s CallStatus) canTransitionTo(next CallStatus) bool {
	if next == s || next == "" {
		return false
	}
	if s == "" {
		return true
	}
	allowed, ok := allowedTransitions[s]
	if !ok {
		return false
	}
	return lo.Contains(allowed, next)
}

// Terminal reports whether the status has no outgoing transitions.
func (s CallStatus) Terminal() bool {
	allowed, ok := allowedTransitions[s]
	return ok && len(allowed) == 0
}

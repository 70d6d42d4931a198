package waveline

import (
	"errors"
	"fmt"
)

// Client validation errors: raised before anything goes over the network.
var (
	ErrInvalidTarget    = errors.New("invalid call target")
	ErrMissingInvitee   = errors.New("missing invite target")
	ErrInvalidDTMF      = errors.New("invalid dtmf digits")
	ErrEmptyText        = errors.New("empty message text")
	ErrNoConversation   = errors.New("call is not bound to a conversation")
	ErrNotAMember       = errors.New("local user is not a member of the conversation")
	ErrMediaUnavailable = errors.New("no media engine configured")
)

// MediaError reports a failure in the network portion of a media operation.
// Local resource cleanup has already run by the time it is returned.
type MediaError struct {
	Op  string
	Err error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media %s: %v", e.Op, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

package waveline

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/wavelinehq/waveline-go/transport"
)

// EventType identifies a service event. The set is closed: the routers
// dispatch with exhaustive switches so an unhandled type is an explicit
// decision, not a silent fallthrough.
type EventType string

const (
	EventMemberJoined  EventType = "member:joined"
	EventMemberInvited EventType = "member:invited"
	EventMemberLeft    EventType = "member:left"
	EventMemberMedia   EventType = "member:media"

	EventAudioMuteOn     EventType = "audio:mute:on"
	EventAudioMuteOff    EventType = "audio:mute:off"
	EventAudioEarmuffOn  EventType = "audio:earmuff:on"
	EventAudioEarmuffOff EventType = "audio:earmuff:off"
	EventAudioDTMF       EventType = "audio:dtmf"

	EventText           EventType = "text"
	EventImage          EventType = "image"
	EventDelete         EventType = "event:delete"
	EventTextSeen       EventType = "text:seen"
	EventTextDelivered  EventType = "text:delivered"
	EventImageSeen      EventType = "image:seen"
	EventImageDelivered EventType = "image:delivered"
	EventTypingOn       EventType = "text:typing:on"
	EventTypingOff      EventType = "text:typing:off"

	EventRTCAnswer   EventType = "rtc:answer"
	EventRTCHangup   EventType = "rtc:hangup"
	EventRTCTransfer EventType = "rtc:transfer"

	EventSIPRinging EventType = "sip:ringing"
	EventSIPHangup  EventType = "sip:hangup"

	EventKnockingDeleteSuccess EventType = "knocking:delete:success"

	// Emission-only names: never arrive on the wire, only go out to the
	// embedding application.
	EventMemberCall        EventType = "member:call"
	EventCallStatusChanged EventType = "call:status:changed"
)

const customPrefix = "custom:"

// IsRTC reports whether the type belongs to the RTC event family, which
// bypasses the conversation event log and sequence counter.
func (t EventType) IsRTC() bool { return strings.HasPrefix(string(t), "rtc:") }

// IsSIP reports whether the type belongs to the SIP event family, which is
// routed without a conversation lookup.
func (t EventType) IsSIP() bool { return strings.HasPrefix(string(t), "sip:") }

// IsCustom reports whether the type is an application-defined event.
func (t EventType) IsCustom() bool { return strings.HasPrefix(string(t), customPrefix) }

// isTyping covers the two indicator types that neither advance the sequence
// counter nor enter the event log.
func (t EventType) isTyping() bool { return t == EventTypingOn || t == EventTypingOff }

// emitName is the notification name for this event; custom events lose their
// prefix before emission.
func (t EventType) emitName() string {
	return strings.TrimPrefix(string(t), customPrefix)
}

// Endpoint describes one side of a channel (an app user or a phone number).
type Endpoint struct {
	Type   string `json:"type,omitempty"`
	User   string `json:"user,omitempty"`
	Number string `json:"number,omitempty"`
}

// Channel is the transport leg info attached to a member.
type Channel struct {
	Type       string    `json:"type,omitempty"`
	ID         string    `json:"id,omitempty"`
	KnockingID string    `json:"knocking_id,omitempty"`
	From       *Endpoint `json:"from,omitempty"`
	To         *Endpoint `json:"to,omitempty"`
}

// MediaState carries the media flags of a member event.
type MediaState struct {
	Audio         bool           `json:"audio,omitempty"`
	AudioSettings *AudioSettings `json:"audio_settings,omitempty"`
}

// AudioSettings is the fine-grained audio state within MediaState.
type AudioSettings struct {
	Enabled   bool `json:"enabled"`
	Muted     bool `json:"muted"`
	Earmuffed bool `json:"earmuffed"`
}

// HangupReason is the structured reason of a sip:hangup event.
type HangupReason struct {
	Code int    `json:"code"`
	Text string `json:"text,omitempty"`
}

// ImageRepresentations holds the size variants of an image event. Upload and
// encoding are the embedding application's business; the SDK only carries the
// references.
type ImageRepresentations struct {
	Original  ImageLink `json:"original,omitempty"`
	Medium    ImageLink `json:"medium,omitempty"`
	Thumbnail ImageLink `json:"thumbnail,omitempty"`
}

// ImageLink points at one stored representation.
type ImageLink struct {
	ID   string `json:"id,omitempty"`
	URL  string `json:"url,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// EventBody is the decoded body of a raw event. It is a union: each event
// type populates its own subset of fields.
type EventBody struct {
	User            *User                 `json:"user,omitempty"`
	Channel         *Channel              `json:"channel,omitempty"`
	Media           *MediaState           `json:"media,omitempty"`
	Timestamp       map[string]time.Time  `json:"timestamp,omitempty"`
	InvitedBy       string                `json:"invited_by,omitempty"`
	EventID         string                `json:"event_id,omitempty"`
	Text            string                `json:"text,omitempty"`
	Representations *ImageRepresentations `json:"representations,omitempty"`
	Reason          *HangupReason         `json:"reason,omitempty"`
	RTCID           string                `json:"rtc_id,omitempty"`
	Answer          string                `json:"answer,omitempty"`
	TransferredFrom string                `json:"transferred_from,omitempty"`
	WasMember       string                `json:"was_member,omitempty"`
	Digit           string                `json:"digit,omitempty"`
}

// EventState tracks which members have received and read a message event.
type EventState struct {
	DeliveredTo map[string]time.Time `json:"delivered_to,omitempty"`
	SeenBy      map[string]time.Time `json:"seen_by,omitempty"`
}

// Event is one entry of a conversation's event log.
type Event struct {
	ID        int64      `json:"id"`
	Type      EventType  `json:"type"`
	CID       string     `json:"cid,omitempty"`
	From      string     `json:"from,omitempty"`
	Timestamp time.Time  `json:"timestamp,omitempty"`
	Body      EventBody  `json:"body,omitempty"`
	State     EventState `json:"state,omitempty"`
}

// TextEvent is the typed view of a text message event.
type TextEvent struct{ *Event }

// Text returns the message text, empty after deletion.
func (e TextEvent) Text() string { return e.Body.Text }

// ImageEvent is the typed view of an image message event.
type ImageEvent struct{ *Event }

// Representations returns the stored image variants, nil after deletion.
func (e ImageEvent) Representations() *ImageRepresentations { return e.Body.Representations }

// decodeEvent turns a raw wire event into an Event with a decoded body and a
// normalized numeric id: some service paths deliver the id only as a
// numeric-looking string inside the body.
func decodeEvent(raw transport.RawEvent) (*Event, error) {
	ev := &Event{
		ID:        raw.ID,
		Type:      EventType(raw.Type),
		CID:       raw.CID,
		From:      raw.From,
		Timestamp: raw.Timestamp,
	}
	if len(raw.Body) > 0 {
		if err := json.Unmarshal(raw.Body, &ev.Body); err != nil {
			return nil, err
		}
	}
	if ev.ID == 0 && ev.Body.EventID != "" {
		if id, err := strconv.ParseInt(ev.Body.EventID, 10, 64); err == nil {
			ev.ID = id
		}
	}
	return ev, nil
}

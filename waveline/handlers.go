package waveline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/wavelinehq/waveline-go/transport"
)

// rtcHandler consumes the RTC event family for one application. Constructed
// once at Application creation; no state of its own beyond the back-pointer.
type rtcHandler struct {
	app *Application
	log zerolog.Logger
}

func newRTCHandler(app *Application) *rtcHandler {
	return &rtcHandler{app: app, log: app.log.With().Str("component", "rtc").Logger()}
}

func (h *rtcHandler) handle(ctx context.Context, conv *Conversation, ev *Event) {
	switch ev.Type {
	case EventRTCAnswer:
		call := h.app.CallForConversation(conv.ID)
		if call == nil {
			h.log.Debug().Str("cid", conv.ID).Msg("rtc answer for unknown call")
			return
		}
		if ev.Body.RTCID != "" {
			call.id = ev.Body.RTCID
		}

	case EventRTCHangup:
		call := h.app.CallForConversation(conv.ID)
		if call == nil {
			return
		}
		if err := call.handleEvent(ctx, ev); err != nil {
			h.log.Warn().Err(err).Str("cid", conv.ID).Msg("rtc hangup handling failed")
		}

	case EventRTCTransfer:
		h.transfer(conv, ev)

	default:
		h.log.Debug().Str("type", string(ev.Type)).Msg("unhandled rtc event")
	}
}

// transfer relocates a call from its old conversation to the one the event
// arrived on. The calls map never holds two keys for the same call: the move
// happens in one locked step.
func (h *rtcHandler) transfer(conv *Conversation, ev *Event) {
	oldCID := ev.Body.TransferredFrom
	if oldCID == "" || oldCID == conv.ID {
		return
	}

	call := h.app.moveCall(oldCID, conv.ID)
	if call == nil {
		h.log.Warn().Str("from", oldCID).Str("to", conv.ID).Msg("transfer for unknown call")
		return
	}
	call.conversation = conv
	call.log = call.log.With().Str("cid", conv.ID).Logger()

	if old := h.app.Conversation(oldCID); old != nil {
		conv.media.adoptFrom(old.media)
		if ev.Body.WasMember != "" {
			if m := old.Member(ev.Body.WasMember); m != nil {
				m.TransferredTo = conv.ID
			}
		}
	}
	h.log.Info().Str("from", oldCID).Str("to", conv.ID).Msg("call transferred")
}

// sipHandler consumes SIP events, which are routed by call rather than by
// conversation: no conversation lookup or fetch happens for them.
type sipHandler struct {
	app *Application
	log zerolog.Logger
}

func newSIPHandler(app *Application) *sipHandler {
	return &sipHandler{app: app, log: app.log.With().Str("component", "sip").Logger()}
}

func (h *sipHandler) handle(ctx context.Context, raw transport.RawEvent) {
	ev, err := decodeEvent(raw)
	if err != nil {
		h.log.Warn().Err(err).Str("type", raw.Type).Msg("malformed sip event")
		return
	}

	call := h.app.CallForConversation(raw.CID)
	if call == nil {
		call = h.app.draftByKnockingID(raw.CID)
	}
	if call == nil {
		h.log.Debug().Str("cid", raw.CID).Str("type", raw.Type).Msg("sip event for unknown call")
		return
	}
	if err := call.handleEvent(ctx, ev); err != nil {
		h.log.Warn().Err(err).Str("type", raw.Type).Msg("sip event handling failed")
	}
}

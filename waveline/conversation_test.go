package waveline

import (
	"context"
	"errors"
	"testing"
)

func TestProcessEventAdvancesSequence(t *testing.T) {
	ctx := context.Background()
	app, _, _ := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	if _, _, err := conv.processEvent(ctx, rawEvent(t, string(EventText), "CON-1", "MEM-bob", 1,
		map[string]any{"text": "hello"})); err != nil {
		t.Fatalf("processEvent: %v", err)
	}
	if conv.SequenceNumber() != 1 {
		t.Fatalf("sequence = %d, want 1", conv.SequenceNumber())
	}

	// Typing indicators advance nothing and stay out of the log.
	if _, _, err := conv.processEvent(ctx, rawEvent(t, string(EventTypingOn), "CON-1", "MEM-bob", 0, nil)); err != nil {
		t.Fatalf("processEvent typing: %v", err)
	}
	if conv.SequenceNumber() != 1 {
		t.Fatalf("typing advanced sequence to %d", conv.SequenceNumber())
	}
	if len(conv.EventLog()) != 1 {
		t.Fatalf("typing entered the event log: %d entries", len(conv.EventLog()))
	}
}

func TestProcessEventRTCBypass(t *testing.T) {
	ctx := context.Background()
	app, _, _ := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	var got *Event
	conv.On(string(EventRTCAnswer), func(args ...any) {
		got, _ = args[0].(*Event)
	})

	ev, _, err := conv.processEvent(ctx, rawEvent(t, string(EventRTCAnswer), "CON-1", "MEM-bob", 0,
		map[string]any{"rtc_id": "LEG-1"}))
	if err != nil {
		t.Fatalf("processEvent: %v", err)
	}
	if got == nil || got != ev {
		t.Fatal("rtc event not re-emitted untouched")
	}
	if conv.SequenceNumber() != 0 {
		t.Fatalf("rtc event advanced sequence to %d", conv.SequenceNumber())
	}
	if len(conv.EventLog()) != 0 {
		t.Fatal("rtc event entered the event log")
	}
}

func TestEnsureMemberFromPayload(t *testing.T) {
	ctx := context.Background()
	app, _, _ := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	body := map[string]any{"user": map[string]any{"id": "USR-carol", "name": "carol"}}
	_, member, err := conv.processEvent(ctx, rawEvent(t, string(EventMemberJoined), "CON-1", "MEM-carol", 2, body))
	if err != nil {
		t.Fatalf("processEvent: %v", err)
	}
	if member == nil || member.ID != "MEM-carol" || member.User.Name != "carol" {
		t.Fatalf("member not constructed from payload: %+v", member)
	}
	if conv.Member("MEM-carol") != member {
		t.Fatal("member not registered in roster")
	}
	if member.State != MemberStateJoined {
		t.Fatalf("state = %q, want joined", member.State)
	}
}

func TestMemberJoinedReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	app, _, _ := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	body := map[string]any{"timestamp": map[string]string{"joined": "2025-06-01T12:00:00Z"}}
	raw := rawEvent(t, string(EventMemberJoined), "CON-1", "MEM-bob", 3, body)

	if _, _, err := conv.processEvent(ctx, raw); err != nil {
		t.Fatalf("processEvent: %v", err)
	}
	first := *conv.Member("MEM-bob")
	firstTS := conv.Member("MEM-bob").Timestamps[MemberStateJoined]

	if _, _, err := conv.processEvent(ctx, raw); err != nil {
		t.Fatalf("processEvent replay: %v", err)
	}
	replayed := conv.Member("MEM-bob")
	if replayed.State != first.State || replayed.Timestamps[MemberStateJoined] != firstTS {
		t.Fatalf("replay changed member state: %+v vs %+v", replayed, first)
	}
	if len(conv.EventLog()) != 1 {
		t.Fatalf("replay duplicated the log entry: %d entries", len(conv.EventLog()))
	}
}

func TestDeliveredAndSeenMarks(t *testing.T) {
	ctx := context.Background()
	app, _, _ := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	if _, _, err := conv.processEvent(ctx, rawEvent(t, string(EventText), "CON-1", "MEM-alice", 10,
		map[string]any{"text": "ping"})); err != nil {
		t.Fatalf("send text: %v", err)
	}

	if _, _, err := conv.processEvent(ctx, rawEvent(t, string(EventTextDelivered), "CON-1", "MEM-bob", 11,
		map[string]any{"event_id": "10"})); err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if _, _, err := conv.processEvent(ctx, rawEvent(t, string(EventTextSeen), "CON-1", "MEM-bob", 12,
		map[string]any{"event_id": "10"})); err != nil {
		t.Fatalf("seen: %v", err)
	}

	target := conv.events[10]
	if _, ok := target.State.DeliveredTo["MEM-bob"]; !ok {
		t.Fatal("delivered mark missing")
	}
	if _, ok := target.State.SeenBy["MEM-bob"]; !ok {
		t.Fatal("seen mark missing")
	}

	// A dangling reference is dropped quietly.
	if _, _, err := conv.processEvent(ctx, rawEvent(t, string(EventTextSeen), "CON-1", "MEM-bob", 13,
		map[string]any{"event_id": "999"})); err != nil {
		t.Fatalf("dangling reference: %v", err)
	}
}

func TestEventDeleteClearsBody(t *testing.T) {
	ctx := context.Background()
	app, _, _ := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	if _, _, err := conv.processEvent(ctx, rawEvent(t, string(EventText), "CON-1", "MEM-alice", 20,
		map[string]any{"text": "secret"})); err != nil {
		t.Fatalf("send text: %v", err)
	}
	if _, _, err := conv.processEvent(ctx, rawEvent(t, string(EventDelete), "CON-1", "MEM-alice", 21,
		map[string]any{"event_id": "20"})); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if text := (TextEvent{conv.events[20]}).Text(); text != "" {
		t.Fatalf("deleted event still carries text %q", text)
	}
	if len(conv.EventLog()) != 2 {
		t.Fatalf("log length = %d, want 2 (deletion keeps the entry)", len(conv.EventLog()))
	}
}

func TestCustomEventPrefixStrippedOnEmission(t *testing.T) {
	ctx := context.Background()
	app, _, _ := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	fired := 0
	conv.On("poll:vote", func(...any) { fired++ })

	if _, _, err := conv.processEvent(ctx, rawEvent(t, "custom:poll:vote", "CON-1", "MEM-bob", 30,
		map[string]any{"text": "option-a"})); err != nil {
		t.Fatalf("processEvent: %v", err)
	}
	if fired != 1 {
		t.Fatalf("listener fired %d times, want 1", fired)
	}
	if conv.SequenceNumber() != 1 {
		t.Fatalf("custom event did not advance sequence: %d", conv.SequenceNumber())
	}
}

func TestEventIDNormalizedFromBody(t *testing.T) {
	ctx := context.Background()
	app, _, _ := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	ev, _, err := conv.processEvent(ctx, rawEvent(t, string(EventText), "CON-1", "MEM-bob", 0,
		map[string]any{"event_id": "42", "text": "late id"}))
	if err != nil {
		t.Fatalf("processEvent: %v", err)
	}
	if ev.ID != 42 {
		t.Fatalf("event id = %d, want 42 (normalized from body)", ev.ID)
	}
	if conv.events[42] == nil {
		t.Fatal("event not registered under normalized id")
	}
}

func TestSendTextValidation(t *testing.T) {
	ctx := context.Background()
	app, tr, _ := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	if err := conv.SendText(ctx, "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("SendText(blank) = %v, want ErrEmptyText", err)
	}
	if err := conv.SendText(ctx, "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	reqs := tr.sentRequests()
	if len(reqs) != 1 || reqs[0].Type != string(EventText) || reqs[0].CID != "CON-1" {
		t.Fatalf("unexpected wire request: %+v", reqs)
	}
}

func TestInviteValidation(t *testing.T) {
	ctx := context.Background()
	app, tr, _ := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	if err := conv.Invite(ctx, ""); !errors.Is(err, ErrMissingInvitee) {
		t.Fatalf("Invite(empty) = %v, want ErrMissingInvitee", err)
	}
	if err := conv.InviteWithAudio(ctx, "carol"); err != nil {
		t.Fatalf("InviteWithAudio: %v", err)
	}
	reqs := tr.sentRequests()
	if len(reqs) != 1 || reqs[0].Type != "member:invite" {
		t.Fatalf("unexpected wire request: %+v", reqs)
	}
	body, ok := reqs[0].Body.(map[string]any)
	if !ok {
		t.Fatalf("body type %T", reqs[0].Body)
	}
	if _, hasMedia := body["media"]; !hasMedia {
		t.Fatal("audio invite missing media flag")
	}
}

func TestRepointMeOnMembershipChange(t *testing.T) {
	ctx := context.Background()
	app, _, _ := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	if conv.Me() == nil || conv.Me().ID != "MEM-alice" {
		t.Fatalf("me = %+v, want MEM-alice", conv.Me())
	}

	// Accepting an invite creates a fresh membership id for the same user.
	body := map[string]any{"user": map[string]any{"id": "USR-alice", "name": "alice"}}
	if _, _, err := conv.processEvent(ctx, rawEvent(t, string(EventMemberJoined), "CON-1", "MEM-alice-2", 5, body)); err != nil {
		t.Fatalf("processEvent: %v", err)
	}
	if conv.Me() == nil || conv.Me().ID != "MEM-alice-2" {
		t.Fatalf("me not re-pointed: %+v", conv.Me())
	}
}

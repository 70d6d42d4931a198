package waveline

import (
	"context"
	"errors"
	"testing"
)

func TestMediaEnableRegistersLeg(t *testing.T) {
	ctx := context.Background()
	app, _, _ := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	stream, err := conv.Media().Enable(ctx)
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if stream == nil {
		t.Fatal("no stream returned")
	}

	legs := conv.Media().Legs()
	if len(legs) != 1 {
		t.Fatalf("legs = %d, want 1", len(legs))
	}
	for _, leg := range legs {
		if leg.StreamIndex != 1 || leg.Type != "audio" {
			t.Fatalf("leg = %+v", leg)
		}
	}
}

func TestMediaEnableWithoutEngine(t *testing.T) {
	ctx := context.Background()

	tr := newFakeTransport()
	app := New(Options{Transport: tr})
	conv := addTestConversation(t, app, "CON-1")

	if _, err := conv.Media().Enable(ctx); !errors.Is(err, ErrMediaUnavailable) {
		t.Fatalf("Enable = %v, want ErrMediaUnavailable", err)
	}
}

func TestMediaDisableClosesAllLegs(t *testing.T) {
	ctx := context.Background()
	app, tr, engine := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	for i := 0; i < 3; i++ {
		if _, err := conv.Media().Enable(ctx); err != nil {
			t.Fatalf("Enable: %v", err)
		}
	}

	if err := conv.Media().Disable(ctx); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if len(conv.Media().Legs()) != 0 {
		t.Fatalf("legs remaining: %d", len(conv.Media().Legs()))
	}
	for i, stream := range engine.streams {
		if !stream.closed {
			t.Fatalf("stream %d not closed", i)
		}
	}
	terminations := 0
	for _, req := range tr.sentRequests() {
		if req.Type == "rtc:terminate" {
			terminations++
		}
	}
	if terminations != 3 {
		t.Fatalf("terminations = %d, want 3", terminations)
	}
}

func TestMediaDisableCleansUpOnTerminateFailure(t *testing.T) {
	ctx := context.Background()
	app, tr, engine := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	if _, err := conv.Media().Enable(ctx); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	tr.requestErr = errors.New("socket gone")

	err := conv.Media().Disable(ctx)
	if err == nil {
		t.Fatal("expected aggregate error")
	}
	var mediaErr *MediaError
	if !errors.As(err, &mediaErr) || mediaErr.Op != "disable" {
		t.Fatalf("error = %v, want *MediaError{Op: disable}", err)
	}

	// Local resources are released even when the service call failed.
	if !engine.streams[0].closed {
		t.Fatal("stream not closed after failed termination")
	}
	if len(conv.Media().Legs()) != 0 {
		t.Fatal("legs not cleared after failed termination")
	}
}

func TestMuteTogglesAndNotifies(t *testing.T) {
	ctx := context.Background()
	app, tr, engine := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	if _, err := conv.Media().Enable(ctx); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := conv.Media().Mute(ctx, true); err != nil {
		t.Fatalf("Mute: %v", err)
	}
	if !conv.Media().Muted() {
		t.Fatal("not muted")
	}
	if engine.streams[0].enabled {
		t.Fatal("audio track still enabled while muted")
	}

	tr.mu.Lock()
	last := tr.notifies[len(tr.notifies)-1]
	tr.mu.Unlock()
	if last.Type != string(EventAudioMuteOn) {
		t.Fatalf("notification %q, want audio:mute:on", last.Type)
	}

	if err := conv.Media().Mute(ctx, false); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	if conv.Media().Muted() || !engine.streams[0].enabled {
		t.Fatal("unmute did not restore audio")
	}
}

func TestMuteRollsBackOnNotifyFailure(t *testing.T) {
	ctx := context.Background()
	app, tr, engine := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	if _, err := conv.Media().Enable(ctx); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	tr.notifyErr = errors.New("socket gone")

	if err := conv.Media().Mute(ctx, true); err == nil {
		t.Fatal("expected notify error")
	}
	if conv.Media().Muted() {
		t.Fatal("mute not rolled back")
	}
	if !engine.streams[0].enabled {
		t.Fatal("audio track not restored on rollback")
	}
}

func TestEarmuffRollsBackOnNotifyFailure(t *testing.T) {
	ctx := context.Background()
	app, tr, _ := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	if err := conv.Media().Earmuff(ctx, true); err != nil {
		t.Fatalf("Earmuff: %v", err)
	}
	if !conv.Media().Earmuffed() {
		t.Fatal("not earmuffed")
	}

	tr.notifyErr = errors.New("socket gone")
	if err := conv.Media().Earmuff(ctx, false); err == nil {
		t.Fatal("expected notify error")
	}
	if !conv.Media().Earmuffed() {
		t.Fatal("earmuff not rolled back")
	}
}

func TestMediaReleasedWhenLocalMemberLeaves(t *testing.T) {
	ctx := context.Background()
	app, _, engine := newTestApp(t)
	conv := addTestConversation(t, app, "CON-1")

	if _, err := conv.Media().Enable(ctx); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	// A remote member leaving does not touch the session.
	body := map[string]any{"timestamp": map[string]string{"left": "2025-06-01T12:00:00Z"}}
	if _, _, err := conv.processEvent(ctx, rawEvent(t, string(EventMemberLeft), "CON-1", "MEM-bob", 1, body)); err != nil {
		t.Fatalf("processEvent: %v", err)
	}
	if len(conv.Media().Legs()) != 1 {
		t.Fatal("remote leave released the session")
	}

	// The local member leaving releases everything.
	if _, _, err := conv.processEvent(ctx, rawEvent(t, string(EventMemberLeft), "CON-1", "MEM-alice", 2, body)); err != nil {
		t.Fatalf("processEvent: %v", err)
	}
	if len(conv.Media().Legs()) != 0 {
		t.Fatal("local leave did not release the session")
	}
	if !engine.streams[0].closed {
		t.Fatal("stream not closed on release")
	}
}

func TestMediaAdoptFrom(t *testing.T) {
	ctx := context.Background()
	app, _, _ := newTestApp(t)
	oldConv := addTestConversation(t, app, "CON-old")
	newConv := addTestConversation(t, app, "CON-new")

	if _, err := oldConv.Media().Enable(ctx); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := oldConv.Media().Mute(ctx, true); err != nil {
		t.Fatalf("Mute: %v", err)
	}

	newConv.Media().adoptFrom(oldConv.Media())

	if len(newConv.Media().Legs()) != 1 {
		t.Fatalf("adopted legs = %d, want 1", len(newConv.Media().Legs()))
	}
	if len(oldConv.Media().Legs()) != 0 {
		t.Fatal("source session still holds legs")
	}
	if !newConv.Media().Muted() {
		t.Fatal("mute state not carried over")
	}
}

package waveline

import "testing"

func TestEmitterOnAndOff(t *testing.T) {
	e := newEmitter()

	calls := 0
	id := e.On("ping", func(...any) { calls++ })

	e.Emit("ping")
	e.Emit("ping")
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}

	e.Off("ping", id)
	e.Emit("ping")
	if calls != 2 {
		t.Fatalf("calls after Off = %d, want 2", calls)
	}
}

func TestEmitterOnceFiresOnce(t *testing.T) {
	e := newEmitter()

	calls := 0
	e.Once("ping", func(...any) { calls++ })

	e.Emit("ping")
	e.Emit("ping")
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestEmitterOnceReentrantEmit(t *testing.T) {
	e := newEmitter()

	calls := 0
	e.Once("ping", func(...any) {
		calls++
		e.Emit("ping") // must not recurse into the same once-listener
	})

	e.Emit("ping")
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestEmitterPayloads(t *testing.T) {
	e := newEmitter()

	var got []any
	e.On("data", func(args ...any) { got = args })

	e.Emit("data", "a", 42)
	if len(got) != 2 || got[0] != "a" || got[1] != 42 {
		t.Fatalf("payloads = %v", got)
	}
}

func TestEmitterReleaseGroup(t *testing.T) {
	e := newEmitter()

	var grouped, loose int
	e.OnGroup("ui", "ping", func(...any) { grouped++ })
	e.OnGroup("ui", "pong", func(...any) { grouped++ })
	e.On("ping", func(...any) { loose++ })

	e.ReleaseGroup("ui")
	e.Emit("ping")
	e.Emit("pong")

	if grouped != 0 {
		t.Fatalf("released group still fired %d times", grouped)
	}
	if loose != 1 {
		t.Fatalf("ungrouped listener fired %d times, want 1", loose)
	}
}

package waveline

import "sync"

// ListenerFunc receives the positional payloads of an emitted notification.
type ListenerFunc func(args ...any)

// Emittable is the notification capability composed into Application,
// Conversation, Call and Member.
type Emittable interface {
	On(name string, fn ListenerFunc) int
	Once(name string, fn ListenerFunc) int
	Off(name string, id int)
	Emit(name string, args ...any)
}

type listener struct {
	fn    ListenerFunc
	once  bool
	group string
}

// Emitter is the single implementation of Emittable. Zero value is not
// usable; construct with newEmitter.
type Emitter struct {
	mu        sync.Mutex
	seq       int
	listeners map[string]map[int]*listener
}

func newEmitter() *Emitter {
	return &Emitter{listeners: make(map[string]map[int]*listener)}
}

// On registers fn for the named notification and returns its handle.
func (e *Emitter) On(name string, fn ListenerFunc) int {
	return e.register(name, "", fn, false)
}

// Once registers fn to fire at most one time.
func (e *Emitter) Once(name string, fn ListenerFunc) int {
	return e.register(name, "", fn, true)
}

// OnGroup registers fn under a group label so a whole set of listeners can be
// released together with ReleaseGroup.
func (e *Emitter) OnGroup(group, name string, fn ListenerFunc) int {
	return e.register(name, group, fn, false)
}

func (e *Emitter) register(name, group string, fn ListenerFunc, once bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	id := e.seq
	if e.listeners[name] == nil {
		e.listeners[name] = make(map[int]*listener)
	}
	e.listeners[name][id] = &listener{fn: fn, once: once, group: group}
	return id
}

// Off removes one listener by handle.
func (e *Emitter) Off(name string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners[name], id)
}

// ReleaseGroup removes every listener registered under the group label.
func (e *Emitter) ReleaseGroup(group string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, byID := range e.listeners {
		for id, l := range byID {
			if l.group == group {
				delete(byID, id)
			}
		}
	}
}

// Emit calls every listener registered for name with the given payloads.
// Listeners run on the caller's goroutine; once-listeners are removed before
// they run so they cannot fire twice even if they re-emit.
func (e *Emitter) Emit(name string, args ...any) {
	e.mu.Lock()
	byID := e.listeners[name]
	fns := make([]ListenerFunc, 0, len(byID))
	for id, l := range byID {
		fns = append(fns, l.fn)
		if l.once {
			delete(byID, id)
		}
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(args...)
	}
}

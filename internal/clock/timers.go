package clock

import (
	"sort"
	"sync"
	"time"
)

// Timers is a set of named one-shot timers. Scheduling a name that is
// already pending replaces the old timer instead of stacking a second
// one. The zero value is not usable; call NewTimers.
type Timers struct {
	clock Clock

	mu      sync.Mutex
	entries map[string]*timerEntry
}

type timerEntry struct {
	timer   *Timer
	stopped bool
}

// NewTimers creates an empty set driven by c.
func NewTimers(c Clock) *Timers {
	return &Timers{clock: c, entries: make(map[string]*timerEntry)}
}

// Replace schedules f under name, cancelling any pending timer of the
// same name.
func (t *Timers) Replace(name string, d time.Duration, f func()) {
	t.Stop(name)
	t.schedule(name, d, f)
}

// Ensure schedules f under name unless a timer of that name is already
// pending. It reports whether a new timer was created.
func (t *Timers) Ensure(name string, d time.Duration, f func()) bool {
	t.mu.Lock()
	_, pending := t.entries[name]
	t.mu.Unlock()
	if pending {
		return false
	}
	t.schedule(name, d, f)
	return true
}

func (t *Timers) schedule(name string, d time.Duration, f func()) {
	e := &timerEntry{}

	t.mu.Lock()
	t.entries[name] = e
	t.mu.Unlock()

	timer := t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if t.entries[name] == e {
			delete(t.entries, name)
		}
		t.mu.Unlock()
		f()
	})

	t.mu.Lock()
	e.timer = timer
	stop := e.stopped
	t.mu.Unlock()
	if stop {
		timer.Stop()
	}
}

// Stop cancels the named timer. Stopping a name that is not pending is a
// no-op.
func (t *Timers) Stop(name string) {
	t.mu.Lock()
	e, ok := t.entries[name]
	if ok {
		delete(t.entries, name)
		e.stopped = true
	}
	t.mu.Unlock()

	if ok {
		e.timer.Stop()
	}
}

// StopAll cancels every pending timer.
func (t *Timers) StopAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*timerEntry)
	for _, e := range entries {
		e.stopped = true
	}
	t.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
	}
}

// Pending reports whether name has a timer that has not fired yet.
func (t *Timers) Pending(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[name]
	return ok
}

// Names returns the pending timer names in sorted order.
func (t *Timers) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

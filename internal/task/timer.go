package task

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Poster schedules fn on the owner's event loop.
type Poster func(fn func()) bool

// Timer is a single-shot cancellable callback owned by one component.
// Re-arming cancels the previous callback; a cancelled callback never runs
// even if its underlying timer already fired.
type Timer struct {
	clock clockwork.Clock
	post  Poster

	mu    sync.Mutex
	gen   uint64
	timer clockwork.Timer
	armed bool
}

// NewTimer builds a timer. A nil post runs callbacks on the clock's goroutine.
func NewTimer(clock clockwork.Clock, post Poster) *Timer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if post == nil {
		post = func(fn func()) bool { fn(); return true }
	}
	return &Timer{clock: clock, post: post}
}

func (t *Timer) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.gen++
	gen := t.gen
	t.armed = true
	t.timer = t.clock.AfterFunc(d, func() {
		t.post(func() {
			if !t.claim(gen) {
				return
			}
			fn()
		})
	})
}

func (t *Timer) claim(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed || t.gen != gen {
		return false
	}
	t.armed = false
	t.timer = nil
	return true
}

// Cancel is safe to call when nothing is armed.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.gen++
}

func (t *Timer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.armed = false
}

func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

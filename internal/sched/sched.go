// Package sched provides named one-shot timers that can be re-armed and
// canceled. Arming an already-armed name replaces the pending firing, so at
// most one timer exists per name at any time.
package sched

import (
	"sync"
	"time"
)

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Timers is a set of named cancellable timers. The zero value is not usable;
// call New.
type Timers struct {
	mu    sync.Mutex
	gen   uint64
	armed map[string]*entry
}

func New() *Timers {
	return &Timers{armed: make(map[string]*entry)}
}

// Arm schedules fn to run once after d, replacing any pending timer with the
// same name. fn runs on a timer goroutine; it may call back into Arm or
// Cancel.
func (t *Timers) Arm(name string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.armed[name]; ok {
		e.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.armed[name] = &entry{
		gen: gen,
		timer: time.AfterFunc(d, func() {
			// A fire that lost the race with Cancel or a re-Arm is stale.
			t.mu.Lock()
			e, ok := t.armed[name]
			if !ok || e.gen != gen {
				t.mu.Unlock()
				return
			}
			delete(t.armed, name)
			t.mu.Unlock()
			fn()
		}),
	}
}

// Cancel stops the named timer if armed. Canceling an unarmed name is a
// no-op.
func (t *Timers) Cancel(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.armed[name]; ok {
		e.timer.Stop()
		delete(t.armed, name)
	}
}

// CancelAll stops every armed timer.
func (t *Timers) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, e := range t.armed {
		e.timer.Stop()
		delete(t.armed, name)
	}
}

// Armed reports whether a timer with the given name is pending.
func (t *Timers) Armed(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.armed[name]
	return ok
}

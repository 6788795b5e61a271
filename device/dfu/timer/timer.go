// Package timer implements dfu.Timer over time.AfterFunc. New uses the
// system clock; NewWithClock records a caller-supplied nowFn in the
// style of core/clock.Clock, but Arm does not consult it: deadlines
// always expire on the real clock.
package timer

import (
	"sync"
	"time"

	"github.com/kabili207/meshdfu-go/core/dfu"
)

var _ dfu.Timer = (*Timer)(nil)

// Timer arms a single outstanding deadline and invokes fire when it
// expires, matching the core's "one timer channel per Bootloader" model
// (§9's "timer as explicit state" design note).
type Timer struct {
	mu    sync.Mutex
	t     *time.Timer
	nowFn func() time.Time
	fire  func()
}

// New creates a Timer that calls fire when armed duration elapses, using
// the system clock.
func New(fire func()) *Timer {
	return &Timer{nowFn: time.Now, fire: fire}
}

// NewWithClock creates a Timer that stores nowFn as its time source.
// Arm does not read nowFn, so expiry still follows the real clock.
func NewWithClock(fire func(), nowFn func() time.Time) *Timer {
	return &Timer{nowFn: nowFn, fire: fire}
}

// Arm schedules fire to be called after d, replacing any pending deadline.
func (t *Timer) Arm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
	}
	t.t = time.AfterFunc(d, t.fire)
}

// Disarm cancels any pending deadline.
func (t *Timer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

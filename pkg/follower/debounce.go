package follower

import (
	"sync"
	"time"

	"github.com/hilthontt/readalong/pkg/clock"
)

// Debouncer coalesces the host's scroll events: send runs with the last
// position once no new event has arrived for the delay.
type Debouncer struct {
	delay time.Duration
	clock clock.Clock
	send  func(position float64, pageIndex int)

	mu       sync.Mutex
	timer    clock.Timer
	position float64
	page     int
	armed    bool
	stopped  bool
}

func NewDebouncer(delay time.Duration, c clock.Clock, send func(position float64, pageIndex int)) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	if c == nil {
		c = clock.Real()
	}
	return &Debouncer{delay: delay, clock: c, send: send}
}

// Scrolled records the latest position and restarts the quiet period.
func (d *Debouncer) Scrolled(position float64, pageIndex int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.position, d.page, d.armed = position, pageIndex, true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.delay, d.fire)
}

// Flush sends a pending position immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.fire()
}

// Stop drops any pending position and ignores later events.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.armed = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if !d.armed || d.stopped {
		d.mu.Unlock()
		return
	}
	position, page := d.position, d.page
	d.armed = false
	d.timer = nil
	d.mu.Unlock()

	d.send(position, page)
}

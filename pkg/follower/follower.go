// Package follower is the participant side of a reading room: it decides
// which host positions to apply and smooths the jump, and carries the push
// and pull clients that feed it.
package follower

import (
	"math"
	"sync"
	"time"

	"github.com/hilthontt/readalong/pkg/clock"
)

const (
	DefaultOverrideWindow  = 3 * time.Second
	DefaultJitterThreshold = 50.0
	DefaultEaseDuration    = 300 * time.Millisecond
	DefaultDebounce        = 100 * time.Millisecond
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultHeartbeat       = 4 * time.Second
)

type Config struct {
	// OverrideWindow is how long a local gesture suppresses host updates.
	OverrideWindow time.Duration
	// JitterThreshold is the smallest position delta worth moving for on
	// the same page.
	JitterThreshold float64
	// EaseDuration is how long the view animates toward a new target. Zero
	// snaps.
	EaseDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		OverrideWindow:  DefaultOverrideWindow,
		JitterThreshold: DefaultJitterThreshold,
		EaseDuration:    DefaultEaseDuration,
	}
}

// Update is one host position as seen on the wire.
type Update struct {
	Position  float64
	PageIndex int
	Timestamp time.Time
}

// View is what the reader should be showing right now.
type View struct {
	Position  float64
	PageIndex int
	// Easing is true while the view is still moving toward the target.
	Easing bool
}

// Follower tracks the host's position for one reader. It is safe for
// concurrent use: the transport goroutine feeds Apply while the UI calls
// Scrolled and View.
type Follower struct {
	cfg   Config
	clock clock.Clock

	mu            sync.Mutex
	syncEnabled   bool
	roomSync      bool
	overrideUntil time.Time
	lastSeen      time.Time
	pending       *Update

	from      float64
	target    float64
	page      int
	easeStart time.Time
}

func New(cfg Config, c clock.Clock) *Follower {
	if cfg.OverrideWindow <= 0 {
		cfg.OverrideWindow = DefaultOverrideWindow
	}
	if cfg.JitterThreshold < 0 {
		cfg.JitterThreshold = 0
	}
	if c == nil {
		c = clock.Real()
	}
	return &Follower{cfg: cfg, clock: c, syncEnabled: true, roomSync: true}
}

// Apply offers a host update. It reports whether the view now moves toward
// it. Updates older than the newest one seen are ignored; updates received
// during a manual override are held and the newest is applied once the
// window closes.
func (f *Follower) Apply(u Update) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !u.Timestamp.IsZero() {
		if u.Timestamp.Before(f.lastSeen) {
			return false
		}
		f.lastSeen = u.Timestamp
	}

	if !f.syncEnabled || !f.roomSync {
		return false
	}

	now := f.clock.Now()
	if now.Before(f.overrideUntil) {
		f.pending = &u
		return false
	}
	f.pending = nil

	return f.moveLocked(u, now)
}

// Scrolled records a local gesture: the view jumps to position and host
// updates are suppressed for the override window.
func (f *Follower) Scrolled(position float64, pageIndex int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	f.overrideUntil = now.Add(f.cfg.OverrideWindow)
	f.from, f.target, f.page = position, position, pageIndex
	f.easeStart = time.Time{}
}

// SetSyncEnabled turns following on or off for this reader only. Turning
// it back on does not replay missed updates; the next one is applied.
func (f *Follower) SetSyncEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.syncEnabled = enabled
	if !enabled {
		f.pending = nil
	}
}

func (f *Follower) SyncEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncEnabled
}

// SetRoomSync records the host's room-wide sync flag. It is independent of
// SetSyncEnabled: following happens only while both are on.
func (f *Follower) SetRoomSync(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.roomSync = enabled
	if !enabled {
		f.pending = nil
	}
}

// Following reports whether host updates are currently applied.
func (f *Follower) Following() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncEnabled && f.roomSync
}

// Overriding reports whether a local gesture is suppressing host updates.
func (f *Follower) Overriding() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock.Now().Before(f.overrideUntil)
}

// View returns the eased position at the current instant.
func (f *Follower) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	if f.pending != nil && !now.Before(f.overrideUntil) {
		u := *f.pending
		f.pending = nil
		f.moveLocked(u, now)
	}

	if f.easeStart.IsZero() || f.cfg.EaseDuration <= 0 {
		return View{Position: f.target, PageIndex: f.page}
	}

	elapsed := now.Sub(f.easeStart)
	if elapsed >= f.cfg.EaseDuration {
		f.easeStart = time.Time{}
		return View{Position: f.target, PageIndex: f.page}
	}

	t := float64(elapsed) / float64(f.cfg.EaseDuration)
	return View{
		Position:  f.from + (f.target-f.from)*easeOutCubic(t),
		PageIndex: f.page,
		Easing:    true,
	}
}

// Target is where the view is heading.
func (f *Follower) Target() (float64, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target, f.page
}

func (f *Follower) moveLocked(u Update, now time.Time) bool {
	if u.PageIndex == f.page && math.Abs(u.Position-f.target) < f.cfg.JitterThreshold {
		return false
	}

	current := f.target
	if !f.easeStart.IsZero() && f.cfg.EaseDuration > 0 {
		if elapsed := now.Sub(f.easeStart); elapsed < f.cfg.EaseDuration {
			t := float64(elapsed) / float64(f.cfg.EaseDuration)
			current = f.from + (f.target-f.from)*easeOutCubic(t)
		}
	}

	f.from = current
	f.target = u.Position
	f.page = u.PageIndex
	f.easeStart = now
	return true
}

func easeOutCubic(t float64) float64 {
	t = 1 - t
	return 1 - t*t*t
}

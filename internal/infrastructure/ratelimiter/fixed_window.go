package ratelimiter

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hilthontt/readalong/pkg/clock"
)

const (
	DefaultRetention     = time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

type Category string

const (
	CategoryAuth       Category = "auth"
	CategoryRoomCreate Category = "room_create"
	CategoryRoomJoin   Category = "room_join"
	CategoryChat       Category = "chat"
	CategoryReaction   Category = "reaction"
	CategoryComment    Category = "comment"
	CategorySync       Category = "sync"
	CategoryPoll       Category = "poll"
)

type Policy struct {
	Window        time.Duration // counting window
	MaxRequests   int           // requests allowed per window
	BlockDuration time.Duration // how long to block after exceeding the limit
}

type Decision struct {
	Allowed           bool
	Limit             int
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
}

type entry struct {
	windowStart  time.Time
	count        int
	blockedUntil time.Time
}

// FixedWindowRateLimiter counts requests per category and identifier in
// fixed windows. A key that exceeds its window is blocked for the category's
// block duration regardless of later window resets.
type FixedWindowRateLimiter struct {
	mu        sync.Mutex
	entries   map[string]*entry
	policies  map[Category]Policy
	clock     clock.Clock
	retention time.Duration
	interval  time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*FixedWindowRateLimiter)

func WithClock(c clock.Clock) Option {
	return func(rl *FixedWindowRateLimiter) {
		rl.clock = c
	}
}

func WithRetention(d time.Duration) Option {
	return func(rl *FixedWindowRateLimiter) {
		rl.retention = d
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(rl *FixedWindowRateLimiter) {
		rl.interval = d
	}
}

func NewFixedWindowRateLimiter(policies map[Category]Policy, opts ...Option) *FixedWindowRateLimiter {
	rl := &FixedWindowRateLimiter{
		entries:   make(map[string]*entry),
		policies:  make(map[Category]Policy, len(policies)),
		clock:     clock.Real(),
		retention: DefaultRetention,
		interval:  DefaultSweepInterval,
		done:      make(chan struct{}),
	}
	for cat, p := range policies {
		rl.policies[cat] = p
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

func key(cat Category, identifier string) string {
	return string(cat) + ":" + identifier
}

// Check counts one request and decides whether it may proceed. Unknown
// categories are always allowed.
func (rl *FixedWindowRateLimiter) Check(cat Category, identifier string) Decision {
	policy, ok := rl.policies[cat]
	if !ok || policy.MaxRequests <= 0 || policy.Window <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	k := key(cat, identifier)
	e, exists := rl.entries[k]
	if !exists {
		e = &entry{windowStart: now}
		rl.entries[k] = e
	}

	if !e.blockedUntil.IsZero() {
		if now.Before(e.blockedUntil) {
			return Decision{
				Limit:             policy.MaxRequests,
				ResetAt:           e.blockedUntil,
				RetryAfterSeconds: retryAfter(e.blockedUntil.Sub(now)),
			}
		}
		e.blockedUntil = time.Time{}
		e.windowStart = now
		e.count = 0
	}

	if !now.Before(e.windowStart.Add(policy.Window)) {
		e.windowStart = now
		e.count = 0
	}

	if e.count >= policy.MaxRequests {
		block := policy.BlockDuration
		if block <= 0 {
			block = e.windowStart.Add(policy.Window).Sub(now)
		}
		e.blockedUntil = now.Add(block)
		return Decision{
			Limit:             policy.MaxRequests,
			ResetAt:           e.blockedUntil,
			RetryAfterSeconds: retryAfter(block),
		}
	}

	e.count++
	return Decision{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Remaining: policy.MaxRequests - e.count,
		ResetAt:   e.windowStart.Add(policy.Window),
	}
}

// Reset forgets everything known about the key, including an active block.
func (rl *FixedWindowRateLimiter) Reset(cat Category, identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.entries, key(cat, identifier))
}

func (rl *FixedWindowRateLimiter) Policy(cat Category) (Policy, bool) {
	p, ok := rl.policies[cat]
	return p, ok
}

// Sweep removes entries whose window started before the retention ceiling
// and whose block has lapsed. It returns the number of removed entries.
func (rl *FixedWindowRateLimiter) Sweep() int {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for k, e := range rl.entries {
		if now.Before(e.blockedUntil) {
			continue
		}
		if now.Sub(e.windowStart) > rl.retention {
			delete(rl.entries, k)
			removed++
		}
	}
	return removed
}

func (rl *FixedWindowRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Run sweeps on a ticker until ctx is done or Close is called.
func (rl *FixedWindowRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Sweep()
		case <-ctx.Done():
			return
		case <-rl.done:
			return
		}
	}
}

func (rl *FixedWindowRateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.done)
	})
}

func retryAfter(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

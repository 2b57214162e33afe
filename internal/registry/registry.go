// Package registry owns every live room. Each room has its own lock; the
// registry's table lock only guards insert, lookup and delete. Lock order is
// table then room, never the reverse.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/logging"
	"github.com/hilthontt/readalong/internal/infrastructure/metrics"
	"github.com/hilthontt/readalong/pkg/clock"
)

const (
	ReasonDeleted  = "deleted"
	ReasonExpired  = "expired"
	ReasonEmpty    = "empty"
	ReasonReplaced = "replaced"

	maxCodeAttempts = 8
)

type Options struct {
	DefaultTTL             time.Duration
	DefaultMaxParticipants int
	// MaxRooms caps live rooms; zero means unlimited.
	MaxRooms int
	// EmptyGrace is how long an empty room is kept before eviction. Zero
	// evicts as soon as the last participant leaves.
	EmptyGrace time.Duration
	// StaleAfter is how long a polling participant may go without a
	// heartbeat. Zero disables stale eviction.
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		DefaultTTL:             6 * time.Hour,
		DefaultMaxParticipants: domain.DefaultMaxParticipants,
		MaxRooms:               10000,
		EmptyGrace:             2 * time.Minute,
		StaleAfter:             12 * time.Second,
		SweepInterval:          5 * time.Second,
	}
}

// EvictFunc observes a room leaving the registry. snap is the room's last
// state, including whoever was still in it.
type EvictFunc func(snap domain.RoomSnapshot, reason string)

// StaleFunc observes a participant removed for missing heartbeats.
type StaleFunc func(snap domain.RoomSnapshot, p domain.Participant)

type CreateOptions struct {
	// Code is optional; a code is generated when empty.
	Code            string
	Content         domain.ContentRef
	MaxParticipants int
	TTL             time.Duration
}

type JoinOptions struct {
	Transport domain.Transport
	SessionID string
}

type entry struct {
	mu      sync.Mutex
	room    *domain.Room
	deleted bool
	reason  string

	ttlTimer   clock.Timer
	graceTimer clock.Timer
	graceGen   int
}

// effects collects what must happen after a room lock is released.
type effects struct {
	stale  []domain.Participant
	evict  string
	last   domain.RoomSnapshot
	staled domain.RoomSnapshot
}

type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*entry
	// tombstones holds codes of rooms deleted by their host until the room
	// would have expired, so a late join cannot resurrect them.
	tombstones map[string]time.Time

	opts    Options
	clock   clock.Clock
	logger  logging.Logger
	metrics *metrics.Metrics

	hookMu  sync.RWMutex
	onEvict EvictFunc
	onStale StaleFunc

	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Registry)

func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

func WithLogger(l logging.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

func New(opts Options, setters ...Option) *Registry {
	if opts.DefaultMaxParticipants <= 0 {
		opts.DefaultMaxParticipants = domain.DefaultMaxParticipants
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultOptions().SweepInterval
	}

	r := &Registry{
		rooms:      make(map[string]*entry),
		tombstones: make(map[string]time.Time),
		opts:       opts,
		clock:      clock.Real(),
		logger:     logging.NewNop(),
		done:       make(chan struct{}),
	}
	for _, set := range setters {
		set(r)
	}
	return r
}

// OnEvict registers the eviction observer. Hooks run outside every registry
// lock, so they may call back into the registry.
func (r *Registry) OnEvict(fn EvictFunc) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onEvict = fn
}

func (r *Registry) OnStale(fn StaleFunc) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onStale = fn
}

// Create opens a room with the host as its first participant. A live room
// with the requested code yields ErrRoomAlreadyExists; an expired or
// deactivated one is replaced.
func (r *Registry) Create(host domain.Identity, opts CreateOptions, join JoinOptions) (domain.RoomSnapshot, error) {
	if host.UserID == "" {
		return domain.RoomSnapshot{}, domain.ErrAuthenticationRequired
	}

	if opts.Code != "" {
		code, err := domain.NormalizeCode(opts.Code)
		if err != nil {
			return domain.RoomSnapshot{}, err
		}
		snap, _, err := r.insert(code, host, opts, join, false)
		return snap, err
	}

	for i := 0; i < maxCodeAttempts; i++ {
		code, err := domain.GenerateCode()
		if err != nil {
			return domain.RoomSnapshot{}, err
		}
		snap, _, err := r.insert(code, host, opts, join, false)
		if errors.Is(err, domain.ErrRoomAlreadyExists) {
			continue
		}
		return snap, err
	}
	return domain.RoomSnapshot{}, domain.ErrRoomAlreadyExists
}

// GetOrCreate resolves code, lazily creating the room with host as its
// first participant. created reports whether host was joined by this call.
func (r *Registry) GetOrCreate(code string, host domain.Identity, content domain.ContentRef, join JoinOptions) (domain.RoomSnapshot, bool, error) {
	code, err := domain.NormalizeCode(code)
	if err != nil {
		return domain.RoomSnapshot{}, false, err
	}
	if host.UserID == "" {
		return domain.RoomSnapshot{}, false, domain.ErrAuthenticationRequired
	}

	return r.insert(code, host, CreateOptions{Code: code, Content: content}, join, true)
}

func (r *Registry) insert(code string, host domain.Identity, opts CreateOptions, join JoinOptions, reuse bool) (domain.RoomSnapshot, bool, error) {
	now := r.clock.Now()

	var (
		replaced   *entry
		replacedFx effects
	)

	r.mu.Lock()
	if until, ok := r.tombstones[code]; ok {
		if now.Before(until) {
			r.mu.Unlock()
			if reuse {
				return domain.RoomSnapshot{}, false, domain.ErrRoomNotFound
			}
			return domain.RoomSnapshot{}, false, domain.ErrRoomAlreadyExists
		}
		delete(r.tombstones, code)
	}
	if existing, ok := r.rooms[code]; ok {
		existing.mu.Lock()
		live := !existing.deleted && existing.room.Writable(now) == nil
		if existing.deleted && existing.reason == ReasonDeleted {
			// deleted by its host but not yet unlinked from the table
			existing.mu.Unlock()
			r.mu.Unlock()
			if reuse {
				return domain.RoomSnapshot{}, false, domain.ErrRoomNotFound
			}
			return domain.RoomSnapshot{}, false, domain.ErrRoomAlreadyExists
		}
		if live {
			snap := existing.room.Snapshot()
			existing.mu.Unlock()
			r.mu.Unlock()
			if reuse {
				return snap, false, nil
			}
			return domain.RoomSnapshot{}, false, domain.ErrRoomAlreadyExists
		}
		if !existing.deleted {
			reason := ReasonReplaced
			if existing.room.Expired(now) {
				reason = ReasonExpired
			}
			r.retireLocked(existing, reason, &replacedFx)
			replaced = existing
		}
		existing.mu.Unlock()
		delete(r.rooms, code)
	}

	if r.opts.MaxRooms > 0 && len(r.rooms) >= r.opts.MaxRooms {
		r.mu.Unlock()
		r.flush(replaced, &replacedFx)
		return domain.RoomSnapshot{}, false, domain.ErrTooManyRooms
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = r.opts.DefaultTTL
	}
	maxParticipants := opts.MaxParticipants
	if maxParticipants <= 0 {
		maxParticipants = r.opts.DefaultMaxParticipants
	}

	room := domain.NewRoom(code, host.UserID, opts.Content, maxParticipants, ttl, now)
	if _, err := room.AddParticipant(domain.NewParticipant(host, join.Transport, join.SessionID, now)); err != nil {
		r.mu.Unlock()
		r.flush(replaced, &replacedFx)
		return domain.RoomSnapshot{}, false, err
	}

	e := &entry{room: room}
	e.mu.Lock()
	if !room.ExpiresAt.IsZero() {
		e.ttlTimer = r.clock.AfterFunc(room.ExpiresAt.Sub(now), func() { r.expire(e) })
	}
	snap := room.Snapshot()
	e.mu.Unlock()

	r.rooms[code] = e
	r.mu.Unlock()

	r.flush(replaced, &replacedFx)
	r.metrics.RoomOpened()
	r.logger.Info(logging.Room, logging.Lifecycle, "room created", map[logging.ExtraKey]any{
		logging.RoomCode: code,
		logging.UserID:   host.UserID,
	})

	return snap, true, nil
}

// Get returns the room's state. Stale polling participants are evicted as a
// side effect.
func (r *Registry) Get(code string) (domain.RoomSnapshot, error) {
	var snap domain.RoomSnapshot
	err := r.withRoom(code, func(e *entry, _ time.Time, _ *effects) error {
		snap = e.room.Snapshot()
		return nil
	})
	return snap, err
}

// Join adds id to the room, or replaces its entry when it is already there.
func (r *Registry) Join(code string, id domain.Identity, opts JoinOptions) (domain.RoomSnapshot, bool, error) {
	if id.UserID == "" {
		return domain.RoomSnapshot{}, false, domain.ErrAuthenticationRequired
	}

	var (
		snap     domain.RoomSnapshot
		rejoined bool
	)
	err := r.withRoom(code, func(e *entry, now time.Time, _ *effects) error {
		if err := e.room.Writable(now); err != nil {
			return err
		}

		var err error
		rejoined, err = e.room.AddParticipant(domain.NewParticipant(id, opts.Transport, opts.SessionID, now))
		if err != nil {
			return err
		}

		r.stopGraceLocked(e)
		snap = e.room.Snapshot()
		return nil
	})
	if err != nil {
		return domain.RoomSnapshot{}, false, err
	}

	r.logger.Debug(logging.Room, logging.Presence, "participant joined", map[logging.ExtraKey]any{
		logging.RoomCode:  snap.Code,
		logging.UserID:    id.UserID,
		logging.SessionID: opts.SessionID,
	})
	return snap, rejoined, nil
}

// Leave removes userID from the room. The returned snapshot is the state
// after removal.
func (r *Registry) Leave(code, userID string) (domain.Participant, domain.RoomSnapshot, error) {
	return r.remove(code, userID, func(domain.Participant) bool { return true })
}

// Disconnect removes userID only while sessionID still owns the entry, so a
// replaced connection cannot remove its successor.
func (r *Registry) Disconnect(code, userID, sessionID string) (domain.Participant, domain.RoomSnapshot, error) {
	return r.remove(code, userID, func(p domain.Participant) bool {
		return p.SessionID == sessionID
	})
}

func (r *Registry) remove(code, userID string, owns func(domain.Participant) bool) (domain.Participant, domain.RoomSnapshot, error) {
	var (
		left domain.Participant
		snap domain.RoomSnapshot
	)
	err := r.withRoom(code, func(e *entry, _ time.Time, fx *effects) error {
		p, ok := e.room.Participant(userID)
		if !ok || !owns(*p) {
			return domain.ErrNotParticipant
		}

		left, _ = e.room.RemoveParticipant(userID)
		snap = e.room.Snapshot()
		r.afterDepartureLocked(e, fx)
		return nil
	})
	if err != nil {
		return domain.Participant{}, domain.RoomSnapshot{}, err
	}

	r.logger.Debug(logging.Room, logging.Presence, "participant left", map[logging.ExtraKey]any{
		logging.RoomCode: snap.Code,
		logging.UserID:   userID,
		logging.Count:    len(snap.Participants),
	})
	return left, snap, nil
}

// Delete removes the room on behalf of its host. Anyone else gets
// ErrForbidden.
func (r *Registry) Delete(code, requesterID string) (domain.RoomSnapshot, error) {
	var snap domain.RoomSnapshot
	err := r.withRoom(code, func(e *entry, _ time.Time, fx *effects) error {
		if !e.room.IsHost(requesterID) {
			return domain.ErrForbidden
		}
		r.retireLocked(e, ReasonDeleted, fx)
		snap = fx.last
		return nil
	})
	return snap, err
}

// Deactivate makes the room read-only. It stays readable until it empties or
// reaches its TTL.
func (r *Registry) Deactivate(code, requesterID string) (domain.RoomSnapshot, error) {
	var snap domain.RoomSnapshot
	err := r.withRoom(code, func(e *entry, _ time.Time, fx *effects) error {
		if !e.room.IsHost(requesterID) {
			return domain.ErrForbidden
		}
		e.room.Active = false
		snap = e.room.Snapshot()
		if len(e.room.Participants) == 0 {
			r.retireLocked(e, ReasonEmpty, fx)
		}
		return nil
	})
	if err != nil {
		return domain.RoomSnapshot{}, err
	}

	r.logger.Info(logging.Room, logging.Lifecycle, "room deactivated", map[logging.ExtraKey]any{
		logging.RoomCode: snap.Code,
		logging.UserID:   requesterID,
	})
	return snap, nil
}

// UpdatePosition applies a host position write. Non-hosts get ErrNotHost and
// the room is left untouched. publish runs under the room lock so every
// receiver observes updates in the order the host made them.
func (r *Registry) UpdatePosition(code, userID string, position float64, page int, publish func(domain.RoomSnapshot)) (domain.RoomSnapshot, error) {
	var snap domain.RoomSnapshot
	err := r.withRoom(code, func(e *entry, now time.Time, _ *effects) error {
		if err := e.room.Writable(now); err != nil {
			return err
		}
		if !e.room.IsHost(userID) {
			return domain.ErrNotHost
		}

		e.room.Position = position
		e.room.PageIndex = e.room.ClampPage(page)
		e.room.UpdatedAt = now
		if p, ok := e.room.Participant(userID); ok {
			p.LastSeen = now
		}

		snap = e.room.Snapshot()
		if publish != nil {
			publish(snap)
		}
		return nil
	})
	return snap, err
}

// SetSyncEnabled toggles the room-wide sync default. Host only.
func (r *Registry) SetSyncEnabled(code, userID string, enabled bool, publish func(domain.RoomSnapshot)) (domain.RoomSnapshot, error) {
	var snap domain.RoomSnapshot
	err := r.withRoom(code, func(e *entry, now time.Time, _ *effects) error {
		if err := e.room.Writable(now); err != nil {
			return err
		}
		if !e.room.IsHost(userID) {
			return domain.ErrNotHost
		}

		e.room.SyncEnabled = enabled
		snap = e.room.Snapshot()
		if publish != nil {
			publish(snap)
		}
		return nil
	})
	return snap, err
}

// SetTyping records the participant's typing flag. changed is false when the
// flag already had that value.
func (r *Registry) SetTyping(code, userID string, typing bool) (domain.Participant, bool, error) {
	var (
		participant domain.Participant
		changed     bool
	)
	err := r.withRoom(code, func(e *entry, now time.Time, _ *effects) error {
		if err := e.room.Writable(now); err != nil {
			return err
		}
		p, ok := e.room.Participant(userID)
		if !ok {
			return domain.ErrNotParticipant
		}

		changed = p.IsTyping != typing
		p.IsTyping = typing
		p.LastSeen = now
		participant = *p
		return nil
	})
	return participant, changed, err
}

// Touch refreshes the participant's lastSeen and, when given, its
// informational local position.
func (r *Registry) Touch(code, userID string, localPosition *float64) (domain.RoomSnapshot, error) {
	var snap domain.RoomSnapshot
	err := r.withRoom(code, func(e *entry, now time.Time, _ *effects) error {
		p, ok := e.room.Participant(userID)
		if !ok {
			return domain.ErrNotParticipant
		}

		p.LastSeen = now
		if localPosition != nil {
			pos := *localPosition
			p.LocalPosition = &pos
		}
		snap = e.room.Snapshot()
		return nil
	})
	return snap, err
}

// Authorize checks that userID may write to the room, refreshing its
// lastSeen on success.
func (r *Registry) Authorize(code, userID string) (domain.Participant, error) {
	var participant domain.Participant
	err := r.withRoom(code, func(e *entry, now time.Time, _ *effects) error {
		if err := e.room.Writable(now); err != nil {
			return err
		}
		p, ok := e.room.Participant(userID)
		if !ok {
			return domain.ErrNotParticipant
		}
		p.LastSeen = now
		participant = *p
		return nil
	})
	return participant, err
}

// Participants lists the room's members in join order.
func (r *Registry) Participants(code string) ([]domain.Participant, error) {
	snap, err := r.Get(code)
	if err != nil {
		return nil, err
	}
	return snap.Participants, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Sweep evicts expired rooms and stale polling participants. It returns the
// number of rooms evicted.
func (r *Registry) Sweep() int {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.rooms))
	for _, e := range r.rooms {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	r.mu.Lock()
	now := r.clock.Now()
	for code, until := range r.tombstones {
		if !now.Before(until) {
			delete(r.tombstones, code)
		}
	}
	r.mu.Unlock()

	evicted := 0
	for _, e := range entries {
		var fx effects
		e.mu.Lock()
		if !e.deleted {
			now := r.clock.Now()
			if e.room.Expired(now) {
				r.retireLocked(e, ReasonExpired, &fx)
			} else {
				r.pruneLocked(e, now, &fx)
			}
		}
		e.mu.Unlock()

		if fx.evict != "" {
			evicted++
		}
		r.flush(e, &fx)
	}
	return evicted
}

// Run sweeps on a ticker until ctx is done or Close is called.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-ctx.Done():
			return
		case <-r.done:
			return
		}
	}
}

// Close stops the sweeper and every room timer and drops all rooms without
// running the eviction hook.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)

		r.mu.Lock()
		defer r.mu.Unlock()

		for code, e := range r.rooms {
			e.mu.Lock()
			e.deleted = true
			r.stopTimersLocked(e)
			e.mu.Unlock()
			delete(r.rooms, code)
			r.metrics.RoomClosed()
		}
	})
}

func (r *Registry) lookup(code string) (*entry, error) {
	code, err := domain.NormalizeCode(code)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	e, ok := r.rooms[code]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return e, nil
}

// withRoom runs fn under the room lock after evicting the room if it has
// expired and pruning stale participants. Hooks fire after the lock is
// released.
func (r *Registry) withRoom(code string, fn func(e *entry, now time.Time, fx *effects) error) error {
	e, err := r.lookup(code)
	if err != nil {
		return err
	}

	var fx effects
	e.mu.Lock()
	err = r.applyLocked(e, &fx, fn)
	e.mu.Unlock()

	r.flush(e, &fx)
	return err
}

func (r *Registry) applyLocked(e *entry, fx *effects, fn func(*entry, time.Time, *effects) error) error {
	if e.deleted {
		return domain.ErrRoomNotFound
	}

	now := r.clock.Now()
	if e.room.Expired(now) {
		r.retireLocked(e, ReasonExpired, fx)
		return domain.ErrRoomNotFound
	}

	r.pruneLocked(e, now, fx)
	if e.deleted {
		return domain.ErrRoomNotFound
	}
	return fn(e, now, fx)
}

func (r *Registry) pruneLocked(e *entry, now time.Time, fx *effects) {
	for id, p := range e.room.Participants {
		if p.Stale(now, r.opts.StaleAfter) {
			removed, _ := e.room.RemoveParticipant(id)
			fx.stale = append(fx.stale, removed)
		}
	}
	if len(fx.stale) == 0 {
		return
	}

	fx.staled = e.room.Snapshot()
	r.afterDepartureLocked(e, fx)
}

// afterDepartureLocked schedules or performs eviction once a room empties.
func (r *Registry) afterDepartureLocked(e *entry, fx *effects) {
	if len(e.room.Participants) > 0 || e.deleted {
		return
	}
	if !e.room.Active || r.opts.EmptyGrace <= 0 {
		r.retireLocked(e, ReasonEmpty, fx)
		return
	}

	r.stopGraceLocked(e)
	gen := e.graceGen
	e.graceTimer = r.clock.AfterFunc(r.opts.EmptyGrace, func() { r.graceExpired(e, gen) })
}

func (r *Registry) stopGraceLocked(e *entry) {
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
	e.graceGen++
}

func (r *Registry) stopTimersLocked(e *entry) {
	if e.ttlTimer != nil {
		e.ttlTimer.Stop()
		e.ttlTimer = nil
	}
	r.stopGraceLocked(e)
}

// retireLocked marks the room deleted and records the eviction. The table
// entry is removed by flush once the room lock is released.
func (r *Registry) retireLocked(e *entry, reason string, fx *effects) {
	e.deleted = true
	e.reason = reason
	e.room.Active = false
	r.stopTimersLocked(e)
	fx.evict = reason
	fx.last = e.room.Snapshot()
}

func (r *Registry) expire(e *entry) {
	var fx effects
	e.mu.Lock()
	if !e.deleted {
		r.retireLocked(e, ReasonExpired, &fx)
	}
	e.mu.Unlock()

	r.flush(e, &fx)
}

func (r *Registry) graceExpired(e *entry, gen int) {
	var fx effects
	e.mu.Lock()
	if !e.deleted && e.graceGen == gen && len(e.room.Participants) == 0 {
		r.retireLocked(e, ReasonEmpty, &fx)
	}
	e.mu.Unlock()

	r.flush(e, &fx)
}

func (r *Registry) flush(e *entry, fx *effects) {
	if e == nil {
		return
	}

	r.hookMu.RLock()
	onStale, onEvict := r.onStale, r.onEvict
	r.hookMu.RUnlock()

	for _, p := range fx.stale {
		r.logger.Debug(logging.Room, logging.Presence, "stale participant evicted", map[logging.ExtraKey]any{
			logging.RoomCode: fx.staled.Code,
			logging.UserID:   p.UserID,
		})
		if onStale != nil {
			onStale(fx.staled, p)
		}
	}

	if fx.evict == "" {
		return
	}

	code := fx.last.Code
	r.mu.Lock()
	if current, ok := r.rooms[code]; ok && current == e {
		delete(r.rooms, code)
	}
	if fx.evict == ReasonDeleted {
		until := fx.last.ExpiresAt
		if until.IsZero() {
			until = r.clock.Now().Add(r.opts.DefaultTTL)
		}
		r.tombstones[code] = until
	}
	r.mu.Unlock()

	r.metrics.RoomClosed()
	r.logger.Info(logging.Room, logging.Lifecycle, "room evicted", map[logging.ExtraKey]any{
		logging.RoomCode: code,
		logging.Reason:   fx.evict,
		logging.Count:    len(fx.last.Participants),
	})
	if onEvict != nil {
		onEvict(fx.last, fx.evict)
	}
}

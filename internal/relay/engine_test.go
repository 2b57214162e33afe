package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/readalong/internal/infrastructure/repository"
	"github.com/hilthontt/readalong/internal/registry"
	"github.com/hilthontt/readalong/pkg/clock"
	"github.com/hilthontt/readalong/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	host   = domain.Identity{UserID: "u1", DisplayName: "Alice"}
	guest  = domain.Identity{UserID: "u2", DisplayName: "Bob"}
	third  = domain.Identity{UserID: "u3", DisplayName: "Carol"}
	socket = registry.JoinOptions{Transport: domain.TransportPush, SessionID: "s"}
)

type delivery struct {
	room    string
	event   protocol.ServerEvent
	exclude []string
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	sent   []delivery
	closed []string
}

func (b *fakeBroadcaster) Broadcast(room string, ev protocol.ServerEvent, exclude ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, delivery{room: room, event: ev, exclude: exclude})
}

func (b *fakeBroadcaster) CloseRoom(room string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, room)
}

func (b *fakeBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = nil
}

func (b *fakeBroadcaster) ofType(t protocol.EventType) []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []delivery
	for _, d := range b.sent {
		if d.event.EventType() == t {
			out = append(out, d)
		}
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.RoomEvent
}

func (s *recordingSink) HandleRoomEvent(_ context.Context, ev domain.RoomEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []domain.RoomEventType {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.RoomEventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

type failingMessages struct {
	domain.MessageStore
}

func (failingMessages) CreateMessage(context.Context, *domain.ChatMessage) error {
	return errors.New("disk full")
}

type harness struct {
	engine   *Engine
	registry *registry.Registry
	bc       *fakeBroadcaster
	sink     *recordingSink
	messages domain.MessageStore
	comments domain.CommentStore
	clock    *clock.Fake
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()

	fc := clock.NewFake(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	reg := registry.New(registry.DefaultOptions(), registry.WithClock(fc))
	t.Cleanup(reg.Close)

	limiter := ratelimiter.NewFixedWindowRateLimiter(ratelimiter.DefaultPolicies(), ratelimiter.WithClock(fc))
	t.Cleanup(limiter.Close)

	h := &harness{
		registry: reg,
		bc:       &fakeBroadcaster{},
		sink:     &recordingSink{},
		messages: repository.NewMessageRepository(0),
		comments: repository.NewCommentRepository(0),
		clock:    fc,
	}

	deps := Deps{
		Registry:    reg,
		Limiter:     limiter,
		Messages:    h.messages,
		Comments:    h.comments,
		Broadcaster: h.bc,
		Sinks:       []domain.RoomEventSink{h.sink},
		Clock:       fc,
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.engine = New(deps)
	return h
}

// room opens ABC123 hosted by u1 with guests already joined.
func (h *harness) room(t *testing.T, max int, guests ...domain.Identity) {
	t.Helper()

	_, err := h.engine.CreateRoom(context.Background(), host, CreateRoomInput{Code: "ABC123", TotalPages: 10, MaxParticipants: max}, socket)
	require.NoError(t, err)
	for _, g := range guests {
		_, err := h.engine.JoinRoom(context.Background(), g, "ABC123", domain.ContentRef{}, socket)
		require.NoError(t, err)
	}
	h.bc.reset()
}

func TestHostPositionFansOutToOthers(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0, guest, third)

	require.NoError(t, h.engine.UpdatePosition(context.Background(), host, "ABC123", 4200, 3))

	updates := h.bc.ofType(protocol.ScrollUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"u1"}, updates[0].exclude)
	ev := updates[0].event.(protocol.ScrollUpdateEvent)
	assert.Equal(t, 4200.0, ev.Position)
	assert.Equal(t, 3, ev.PageIndex)
	assert.Equal(t, "u1", ev.UserID)

	snap, err := h.engine.RoomState(context.Background(), guest, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, 4200.0, snap.Position)
	assert.Equal(t, 3, snap.PageIndex)
}

func TestNonHostPositionIsSilentlyDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0, guest)

	err := h.engine.UpdatePosition(context.Background(), guest, "ABC123", 999, 9)
	require.NoError(t, err)
	assert.Empty(t, h.bc.ofType(protocol.ScrollUpdate))

	snap, err := h.engine.RoomState(context.Background(), host, "ABC123")
	require.NoError(t, err)
	assert.Zero(t, snap.Position)
	assert.Zero(t, snap.PageIndex)
	assert.Equal(t, "u1", snap.HostID)
}

func TestPositionValidation(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0)

	err := h.engine.UpdatePosition(context.Background(), host, "ABC123", -1, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
	err = h.engine.UpdatePosition(context.Background(), host, "ABC123", 10, -2)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRoomFull(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 2, guest)

	_, err := h.engine.JoinRoom(context.Background(), third, "ABC123", domain.ContentRef{}, socket)
	assert.ErrorIs(t, err, domain.ErrRoomFull)
	assert.Contains(t, h.sink.types(), domain.EventRoomFull)
}

func TestJoinAnnouncesNewcomerOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0)

	res, err := h.engine.JoinRoom(context.Background(), guest, "abc123", domain.ContentRef{}, socket)
	require.NoError(t, err)
	assert.False(t, res.Rejoined)
	assert.Equal(t, "ABC123", res.Snapshot.Code)

	joined := h.bc.ofType(protocol.UserJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, []string{"u2"}, joined[0].exclude)
	assert.Equal(t, 2, joined[0].event.(protocol.UserJoinedEvent).ParticipantCount)

	res, err = h.engine.JoinRoom(context.Background(), guest, "ABC123", domain.ContentRef{}, socket)
	require.NoError(t, err)
	assert.True(t, res.Rejoined)
	assert.Len(t, h.bc.ofType(protocol.UserJoined), 1)
}

func TestJoinUnseenCodeCreatesRoom(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.engine.JoinRoom(context.Background(), guest, "NEW123", domain.ContentRef{ID: "book", TotalPages: 4}, socket)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "u2", res.Snapshot.HostID)
	assert.Equal(t, []domain.RoomEventType{domain.EventRoomCreated}, h.sink.types())
}

func TestChatRateLimit(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0)

	for i := 0; i < 30; i++ {
		_, err := h.engine.SendMessage(context.Background(), host, "ABC123", "hello")
		require.NoError(t, err, "message %d", i+1)
	}

	_, err := h.engine.SendMessage(context.Background(), host, "ABC123", "hello")
	require.ErrorIs(t, err, domain.ErrRateLimited)

	var rl *domain.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Greater(t, rl.RetryAfterSeconds, 0)
	assert.Len(t, h.bc.ofType(protocol.MessageReceived), 30)
}

func TestChatRejectsOverlongBeforeAnyEffect(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0)

	_, err := h.engine.SendMessage(context.Background(), host, "ABC123", strings.Repeat("a", 2001))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, h.bc.ofType(protocol.MessageReceived))

	msgs, err := h.messages.ListMessages(context.Background(), "ABC123", time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = h.engine.SendMessage(context.Background(), host, "ABC123", strings.Repeat("é", 2000))
	assert.NoError(t, err)
}

func TestChatIsSanitizedAndEchoedToSender(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0, guest)

	msg, err := h.engine.SendMessage(context.Background(), guest, "ABC123", `hi <script>alert(1)</script><b>there</b>`)
	require.NoError(t, err)
	assert.Equal(t, "hi there", msg.Text)
	assert.Equal(t, "Bob", msg.Username)
	assert.NotEmpty(t, msg.ID)

	received := h.bc.ofType(protocol.MessageReceived)
	require.Len(t, received, 1)
	assert.Empty(t, received[0].exclude)

	stored, err := h.messages.ListMessages(context.Background(), "ABC123", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "hi there", stored[0].Text)
}

func TestChatRequiresParticipant(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0)

	_, err := h.engine.SendMessage(context.Background(), guest, "ABC123", "hello")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)

	_, err = h.engine.SendMessage(context.Background(), guest, "ZZZZ99", "hello")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestChatStoreFailureIsNotSurfaced(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Messages = failingMessages{d.Messages}
	})
	h.room(t, 0)

	_, err := h.engine.SendMessage(context.Background(), host, "ABC123", "hello")
	require.NoError(t, err)
	assert.Len(t, h.bc.ofType(protocol.MessageReceived), 1)
}

func TestTypingTransitions(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0, guest)

	require.NoError(t, h.engine.SetTyping(context.Background(), guest, "ABC123", true))
	require.NoError(t, h.engine.SetTyping(context.Background(), guest, "ABC123", true))

	typing := h.bc.ofType(protocol.UserTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, []string{"u2"}, typing[0].exclude)

	// sending a message ends the typing state
	_, err := h.engine.SendMessage(context.Background(), guest, "ABC123", "done")
	require.NoError(t, err)
	assert.Len(t, h.bc.ofType(protocol.UserTypingStop), 1)
}

func TestReactions(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0, guest)

	r, err := h.engine.React(context.Background(), guest, "ABC123", "msg-1", "\u2764")
	require.NoError(t, err)
	assert.Equal(t, "\u2764\ufe0f", r.Emoji)

	// not deduplicated
	_, err = h.engine.React(context.Background(), guest, "ABC123", "msg-1", "\u2764\ufe0f")
	require.NoError(t, err)
	assert.Len(t, h.bc.ofType(protocol.MessageReaction), 2)

	_, err = h.engine.React(context.Background(), guest, "ABC123", "msg-1", "🍕")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = h.engine.React(context.Background(), guest, "ABC123", "bad id!", "👍")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPanelComments(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0, guest)

	c, err := h.engine.AddPanelComment(context.Background(), guest, "ABC123", CommentInput{PageID: "p1", Text: "nice panel", XPercent: 25, YPercent: 75})
	require.NoError(t, err)
	assert.Equal(t, "p1", c.PageID)
	assert.Len(t, h.bc.ofType(protocol.PanelComment), 1)

	_, err = h.engine.AddPanelComment(context.Background(), guest, "ABC123", CommentInput{PageID: "p1", Text: "off", XPercent: 101, YPercent: 5})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = h.engine.AddPanelComment(context.Background(), guest, "ABC123", CommentInput{PageID: "p1", Text: "off", XPercent: 5, YPercent: -0.1})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = h.engine.AddPanelComment(context.Background(), guest, "ABC123", CommentInput{PageID: "p1", Text: strings.Repeat("x", 1001)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	list, err := h.engine.ListComments(context.Background(), host, "ABC123", "p1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "nice panel", list[0].Text)
}

func TestHostDeleteNotifiesAndForgetsRoom(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0, guest)

	_, err := h.engine.SendMessage(context.Background(), guest, "ABC123", "hello")
	require.NoError(t, err)

	err = h.engine.DeleteRoom(context.Background(), guest, "ABC123")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	require.NoError(t, h.engine.DeleteRoom(context.Background(), host, "ABC123"))

	deleted := h.bc.ofType(protocol.RoomDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, "ABC123", deleted[0].event.(protocol.RoomDeletedEvent).RoomCode)
	assert.Equal(t, []string{"ABC123"}, h.bc.closed)
	assert.Contains(t, h.sink.types(), domain.EventRoomDeleted)

	msgs, err := h.messages.ListMessages(context.Background(), "ABC123", time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = h.engine.JoinRoom(context.Background(), third, "ABC123", domain.ContentRef{}, socket)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestLeaveAnnouncesDeparture(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0, guest)

	require.NoError(t, h.engine.LeaveRoom(context.Background(), guest, "ABC123"))

	left := h.bc.ofType(protocol.UserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, 1, left[0].event.(protocol.UserLeftEvent).ParticipantCount)

	err := h.engine.LeaveRoom(context.Background(), guest, "ABC123")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
}

func TestHostDisconnectFreezesSync(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0, guest)

	h.engine.Disconnect(context.Background(), host, "ABC123", "s")

	snap, err := h.engine.RoomState(context.Background(), guest, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "u1", snap.HostID, "authority never transfers")
	_, ok := snap.Participant("u1")
	assert.False(t, ok)

	require.NoError(t, h.engine.UpdatePosition(context.Background(), guest, "ABC123", 50, 1))
	assert.Empty(t, h.bc.ofType(protocol.ScrollUpdate))
}

func TestStaleParticipantIsAnnounced(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0)

	_, err := h.engine.JoinRoom(context.Background(), guest, "ABC123", domain.ContentRef{}, registry.JoinOptions{Transport: domain.TransportPoll})
	require.NoError(t, err)
	h.bc.reset()

	h.clock.Advance(13 * time.Second)
	h.registry.Sweep()

	left := h.bc.ofType(protocol.UserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "u2", left[0].event.(protocol.UserLeftEvent).UserID)
}

func TestExpiryBroadcastsRoomDeleted(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.CreateRoom(context.Background(), host, CreateRoomInput{Code: "ABC123", TTL: time.Minute}, socket)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)

	deleted := h.bc.ofType(protocol.RoomDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, registry.ReasonExpired, deleted[0].event.(protocol.RoomDeletedEvent).Reason)
	assert.Contains(t, h.sink.types(), domain.EventRoomExpired)
}

func TestSyncToggle(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0, guest)

	err := h.engine.SetSyncEnabled(context.Background(), guest, "ABC123", false)
	assert.ErrorIs(t, err, domain.ErrNotHost)

	require.NoError(t, h.engine.SetSyncEnabled(context.Background(), host, "ABC123", false))
	states := h.bc.ofType(protocol.SyncState)
	require.Len(t, states, 1)
	assert.False(t, states[0].event.(protocol.SyncStateEvent).Enabled)
}

func TestListMessagesAndHistory(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0, guest)

	first, err := h.engine.SendMessage(context.Background(), host, "ABC123", "one")
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	_, err = h.engine.SendMessage(context.Background(), guest, "ABC123", "two")
	require.NoError(t, err)

	msgs, err := h.engine.ListMessages(context.Background(), guest, "ABC123", first.CreatedAt, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "two", msgs[0].Text)

	_, err = h.engine.ListMessages(context.Background(), third, "ABC123", time.Time{}, 0)
	assert.ErrorIs(t, err, domain.ErrNotParticipant)

	history := HistoryEvents(h.engine.History(context.Background(), "ABC123"))
	require.Len(t, history, 2)
	assert.Equal(t, "one", history[0].(protocol.MessageReceivedEvent).Text)
}

func TestRoomStateEvent(t *testing.T) {
	h := newHarness(t, nil)
	h.room(t, 0, guest)

	snap, err := h.engine.RoomState(context.Background(), guest, "ABC123")
	require.NoError(t, err)

	ev := RoomState(snap)
	assert.Equal(t, "ABC123", ev.RoomCode)
	assert.Equal(t, 10, ev.TotalPages)
	require.Len(t, ev.Participants, 2)
	assert.True(t, ev.Participants[0].IsHost)
	assert.False(t, ev.Participants[1].IsHost)
}

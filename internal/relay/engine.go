// Package relay is the transport-agnostic core shared by the push and pull
// bindings. Every room mutation goes through the registry; every fan-out goes
// through the Broadcaster.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/logging"
	"github.com/hilthontt/readalong/internal/infrastructure/metrics"
	"github.com/hilthontt/readalong/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/readalong/internal/infrastructure/sanitize"
	"github.com/hilthontt/readalong/internal/infrastructure/tracing"
	"github.com/hilthontt/readalong/internal/registry"
	"github.com/hilthontt/readalong/pkg/clock"
	"github.com/hilthontt/readalong/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultHistoryReplay = 50
	DefaultListLimit     = 50
	MaxListLimit         = 200

	sinkTimeout    = 5 * time.Second
	cleanupTimeout = 5 * time.Second
)

// Broadcaster delivers server events to the push connections of a room.
type Broadcaster interface {
	// Broadcast sends ev to every connection in the room except those owned
	// by the excluded users.
	Broadcast(roomCode string, ev protocol.ServerEvent, exclude ...string)
	// CloseRoom detaches every connection from the room.
	CloseRoom(roomCode string)
}

type Limiter interface {
	Check(cat ratelimiter.Category, identifier string) ratelimiter.Decision
}

type Deps struct {
	Registry    *registry.Registry
	Limiter     Limiter
	Messages    domain.MessageStore
	Comments    domain.CommentStore
	Broadcaster Broadcaster
	Sinks       []domain.RoomEventSink
	Clock       clock.Clock
	Logger      logging.Logger
	Metrics     *metrics.Metrics
	// HistoryReplay is how many recent messages a joining socket receives.
	HistoryReplay int
}

type Engine struct {
	registry      *registry.Registry
	limiter       Limiter
	messages      domain.MessageStore
	comments      domain.CommentStore
	broadcaster   Broadcaster
	sinks         []domain.RoomEventSink
	clock         clock.Clock
	logger        logging.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	historyReplay int
}

// New builds the engine and subscribes it to the registry's eviction and
// stale-participant hooks.
func New(deps Deps) *Engine {
	e := &Engine{
		registry:      deps.Registry,
		limiter:       deps.Limiter,
		messages:      deps.Messages,
		comments:      deps.Comments,
		broadcaster:   deps.Broadcaster,
		sinks:         deps.Sinks,
		clock:         deps.Clock,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
		tracer:        tracing.GetTracer("readalong/relay"),
		historyReplay: deps.HistoryReplay,
	}
	if e.broadcaster == nil {
		e.broadcaster = nopBroadcaster{}
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.historyReplay <= 0 {
		e.historyReplay = DefaultHistoryReplay
	}

	e.registry.OnEvict(e.roomEvicted)
	e.registry.OnStale(e.participantStale)
	return e
}

type CreateRoomInput struct {
	Code            string
	ContentID       string
	TotalPages      int
	MaxParticipants int
	TTL             time.Duration
}

type JoinResult struct {
	Snapshot domain.RoomSnapshot
	Created  bool
	Rejoined bool
}

type CommentInput struct {
	PageID   string
	Text     string
	XPercent float64
	YPercent float64
}

// CreateRoom opens a room with the caller as host and first participant.
func (e *Engine) CreateRoom(ctx context.Context, id domain.Identity, in CreateRoomInput, join registry.JoinOptions) (snap domain.RoomSnapshot, err error) {
	ctx, span := e.start(ctx, "CreateRoom", in.Code)
	defer endSpan(span, &err)

	if err := e.allow(ratelimiter.CategoryRoomCreate, id.UserID); err != nil {
		return domain.RoomSnapshot{}, err
	}
	if in.TotalPages < 0 {
		return domain.RoomSnapshot{}, domain.NewValidationError("totalPages", "must not be negative")
	}

	snap, err = e.registry.Create(id, registry.CreateOptions{
		Code:            in.Code,
		Content:         domain.ContentRef{ID: in.ContentID, TotalPages: in.TotalPages},
		MaxParticipants: in.MaxParticipants,
		TTL:             in.TTL,
	}, join)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}

	e.emit(ctx, domain.RoomEvent{
		Type:             domain.EventRoomCreated,
		RoomCode:         snap.Code,
		UserID:           id.UserID,
		HostID:           snap.HostID,
		ParticipantCount: len(snap.Participants),
	})
	return snap, nil
}

// JoinRoom joins the caller to code, creating the room with the caller as
// host when the code is unseen.
func (e *Engine) JoinRoom(ctx context.Context, id domain.Identity, code string, content domain.ContentRef, join registry.JoinOptions) (res JoinResult, err error) {
	ctx, span := e.start(ctx, "JoinRoom", code)
	defer endSpan(span, &err)

	if err := e.allow(ratelimiter.CategoryRoomJoin, id.UserID); err != nil {
		return JoinResult{}, err
	}

	snap, created, err := e.registry.GetOrCreate(code, id, content, join)
	if err != nil {
		return JoinResult{}, err
	}
	if created {
		e.emit(ctx, domain.RoomEvent{
			Type:             domain.EventRoomCreated,
			RoomCode:         snap.Code,
			UserID:           id.UserID,
			HostID:           snap.HostID,
			ParticipantCount: 1,
		})
		return JoinResult{Snapshot: snap, Created: true}, nil
	}

	roomCode := snap.Code
	snap, rejoined, err := e.registry.Join(roomCode, id, join)
	if err != nil {
		if errors.Is(err, domain.ErrRoomFull) {
			e.emit(ctx, domain.RoomEvent{Type: domain.EventRoomFull, RoomCode: roomCode, UserID: id.UserID})
		}
		return JoinResult{}, err
	}

	if !rejoined {
		e.broadcast(snap.Code, protocol.UserJoinedEvent{
			UserID:           id.UserID,
			Username:         id.DisplayName,
			ParticipantCount: len(snap.Participants),
		}, id.UserID)
		e.emit(ctx, domain.RoomEvent{
			Type:             domain.EventMemberJoined,
			RoomCode:         snap.Code,
			UserID:           id.UserID,
			HostID:           snap.HostID,
			ParticipantCount: len(snap.Participants),
		})
	}

	return JoinResult{Snapshot: snap, Rejoined: rejoined}, nil
}

func (e *Engine) LeaveRoom(ctx context.Context, id domain.Identity, code string) (err error) {
	ctx, span := e.start(ctx, "LeaveRoom", code)
	defer endSpan(span, &err)

	left, snap, err := e.registry.Leave(code, id.UserID)
	if err != nil {
		return err
	}

	e.departed(ctx, snap, left, "left")
	return nil
}

// Disconnect removes a push participant when its connection closes. A
// connection that has since been replaced by a newer one is ignored.
func (e *Engine) Disconnect(ctx context.Context, id domain.Identity, code, sessionID string) {
	left, snap, err := e.registry.Disconnect(code, id.UserID, sessionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotParticipant) && !errors.Is(err, domain.ErrRoomNotFound) {
			e.logger.Warn(logging.Room, logging.Presence, "disconnect failed", map[logging.ExtraKey]any{
				logging.RoomCode:     code,
				logging.UserID:       id.UserID,
				logging.ErrorMessage: err.Error(),
			})
		}
		return
	}

	e.departed(ctx, snap, left, "disconnected")
}

func (e *Engine) departed(ctx context.Context, snap domain.RoomSnapshot, left domain.Participant, reason string) {
	if left.IsTyping {
		e.broadcast(snap.Code, protocol.UserTypingStopEvent{UserID: left.UserID, Username: left.DisplayName}, left.UserID)
	}
	e.broadcast(snap.Code, protocol.UserLeftEvent{
		UserID:           left.UserID,
		Username:         left.DisplayName,
		ParticipantCount: len(snap.Participants),
	}, left.UserID)
	e.emit(ctx, domain.RoomEvent{
		Type:             domain.EventMemberLeft,
		RoomCode:         snap.Code,
		UserID:           left.UserID,
		HostID:           snap.HostID,
		ParticipantCount: len(snap.Participants),
		Reason:           reason,
	})
}

// DeleteRoom removes the room on behalf of its host. Members are notified
// and stored history is dropped by the eviction hook.
func (e *Engine) DeleteRoom(ctx context.Context, id domain.Identity, code string) (err error) {
	_, span := e.start(ctx, "DeleteRoom", code)
	defer endSpan(span, &err)

	_, err = e.registry.Delete(code, id.UserID)
	return err
}

// DeactivateRoom freezes the room. It stays readable until it empties or
// reaches its TTL.
func (e *Engine) DeactivateRoom(ctx context.Context, id domain.Identity, code string) (snap domain.RoomSnapshot, err error) {
	ctx, span := e.start(ctx, "DeactivateRoom", code)
	defer endSpan(span, &err)

	snap, err = e.registry.Deactivate(code, id.UserID)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}

	e.broadcast(snap.Code, RoomState(snap))
	e.emit(ctx, domain.RoomEvent{
		Type:             domain.EventRoomDeactivated,
		RoomCode:         snap.Code,
		UserID:           id.UserID,
		HostID:           snap.HostID,
		ParticipantCount: len(snap.Participants),
		Reason:           "host",
	})
	return snap, nil
}

// UpdatePosition relays a host position write to every other participant.
// Writes from anyone but the host are dropped and reported as success.
func (e *Engine) UpdatePosition(ctx context.Context, id domain.Identity, code string, position float64, pageIndex int) (err error) {
	_, span := e.start(ctx, "UpdatePosition", code)
	defer endSpan(span, &err)

	if err := e.allow(ratelimiter.CategorySync, id.UserID); err != nil {
		return err
	}
	if err := sanitize.Position(position, pageIndex); err != nil {
		return err
	}

	_, err = e.registry.UpdatePosition(code, id.UserID, position, pageIndex, func(snap domain.RoomSnapshot) {
		e.broadcast(snap.Code, protocol.ScrollUpdateEvent{
			UserID:    id.UserID,
			Position:  snap.Position,
			PageIndex: snap.PageIndex,
			Timestamp: snap.UpdatedAt,
		}, snap.HostID)
	})
	if errors.Is(err, domain.ErrNotHost) {
		e.metrics.SyncDropped()
		e.logger.Debug(logging.Sync, logging.NotHost, "position update from non-host dropped", map[logging.ExtraKey]any{
			logging.RoomCode: code,
			logging.UserID:   id.UserID,
		})
		return nil
	}
	return err
}

// SetSyncEnabled toggles the room-wide sync default. Host only.
func (e *Engine) SetSyncEnabled(ctx context.Context, id domain.Identity, code string, enabled bool) (err error) {
	_, span := e.start(ctx, "SetSyncEnabled", code)
	defer endSpan(span, &err)

	_, err = e.registry.SetSyncEnabled(code, id.UserID, enabled, func(snap domain.RoomSnapshot) {
		e.broadcast(snap.Code, protocol.SyncStateEvent{Enabled: snap.SyncEnabled})
	})
	return err
}

// SendMessage validates, stores and echoes a chat message to every member,
// the sender included.
func (e *Engine) SendMessage(ctx context.Context, id domain.Identity, code, text string) (msg domain.ChatMessage, err error) {
	ctx, span := e.start(ctx, "SendMessage", code)
	defer endSpan(span, &err)

	if err := e.allow(ratelimiter.CategoryChat, id.UserID); err != nil {
		return domain.ChatMessage{}, err
	}

	code, err = domain.NormalizeCode(code)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	sender, err := e.registry.Authorize(code, id.UserID)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	clean, err := sanitize.Message(text)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	msg = domain.ChatMessage{
		ID:        uuid.NewString(),
		RoomCode:  code,
		UserID:    id.UserID,
		Username:  sender.DisplayName,
		Text:      clean,
		CreatedAt: e.clock.Now(),
	}
	if e.messages != nil {
		if err := e.messages.CreateMessage(ctx, &msg); err != nil {
			e.logger.Error(logging.Storage, logging.Insert, "failed to persist chat message", map[logging.ExtraKey]any{
				logging.RoomCode:     code,
				logging.UserID:       id.UserID,
				logging.ErrorMessage: err.Error(),
			})
		}
	}

	if sender.IsTyping {
		if _, changed, err := e.registry.SetTyping(code, id.UserID, false); err == nil && changed {
			e.broadcast(code, protocol.UserTypingStopEvent{UserID: id.UserID, Username: sender.DisplayName}, id.UserID)
		}
	}

	e.broadcast(code, protocol.MessageReceivedEvent{
		ID:        msg.ID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Text:      msg.Text,
		Timestamp: msg.CreatedAt,
	})
	return msg, nil
}

// SetTyping broadcasts typing transitions to the other members. Repeating
// the current state is a no-op.
func (e *Engine) SetTyping(ctx context.Context, id domain.Identity, code string, typing bool) (err error) {
	_, span := e.start(ctx, "SetTyping", code)
	defer endSpan(span, &err)

	code, err = domain.NormalizeCode(code)
	if err != nil {
		return err
	}

	p, changed, err := e.registry.SetTyping(code, id.UserID, typing)
	if err != nil || !changed {
		return err
	}

	if typing {
		e.broadcast(code, protocol.UserTypingEvent{UserID: p.UserID, Username: p.DisplayName}, p.UserID)
	} else {
		e.broadcast(code, protocol.UserTypingStopEvent{UserID: p.UserID, Username: p.DisplayName}, p.UserID)
	}
	return nil
}

// React relays a whitelisted emoji reaction. Reactions are not deduplicated.
func (e *Engine) React(ctx context.Context, id domain.Identity, code, messageID, emoji string) (reaction domain.Reaction, err error) {
	_, span := e.start(ctx, "React", code)
	defer endSpan(span, &err)

	if err := e.allow(ratelimiter.CategoryReaction, id.UserID); err != nil {
		return domain.Reaction{}, err
	}

	code, err = domain.NormalizeCode(code)
	if err != nil {
		return domain.Reaction{}, err
	}
	sender, err := e.registry.Authorize(code, id.UserID)
	if err != nil {
		return domain.Reaction{}, err
	}

	if err := sanitize.MessageID(messageID); err != nil {
		return domain.Reaction{}, err
	}
	canonical, err := sanitize.Emoji(emoji)
	if err != nil {
		return domain.Reaction{}, err
	}

	reaction = domain.Reaction{
		MessageID: messageID,
		Emoji:     canonical,
		UserID:    id.UserID,
		Username:  sender.DisplayName,
		CreatedAt: e.clock.Now(),
	}
	e.broadcast(code, protocol.MessageReactionEvent{
		MessageID: reaction.MessageID,
		Emoji:     reaction.Emoji,
		UserID:    reaction.UserID,
		Username:  reaction.Username,
		Timestamp: reaction.CreatedAt,
	})
	return reaction, nil
}

// AddPanelComment stores a page-anchored comment and relays it to every
// member.
func (e *Engine) AddPanelComment(ctx context.Context, id domain.Identity, code string, in CommentInput) (comment domain.PanelComment, err error) {
	ctx, span := e.start(ctx, "AddPanelComment", code)
	defer endSpan(span, &err)

	if err := e.allow(ratelimiter.CategoryComment, id.UserID); err != nil {
		return domain.PanelComment{}, err
	}

	code, err = domain.NormalizeCode(code)
	if err != nil {
		return domain.PanelComment{}, err
	}
	sender, err := e.registry.Authorize(code, id.UserID)
	if err != nil {
		return domain.PanelComment{}, err
	}

	clean, err := sanitizeComment(in)
	if err != nil {
		return domain.PanelComment{}, err
	}

	comment = domain.PanelComment{
		ID:        uuid.NewString(),
		RoomCode:  code,
		PageID:    in.PageID,
		UserID:    id.UserID,
		Username:  sender.DisplayName,
		Text:      clean,
		XPercent:  in.XPercent,
		YPercent:  in.YPercent,
		CreatedAt: e.clock.Now(),
	}
	if e.comments != nil {
		if err := e.comments.CreateComment(ctx, &comment); err != nil {
			return domain.PanelComment{}, err
		}
	}

	e.broadcast(code, protocol.PanelCommentAddedEvent{
		ID:        comment.ID,
		PageID:    comment.PageID,
		UserID:    comment.UserID,
		Username:  comment.Username,
		Text:      comment.Text,
		XPercent:  comment.XPercent,
		YPercent:  comment.YPercent,
		Timestamp: comment.CreatedAt,
	})
	return comment, nil
}

// Heartbeat refreshes the caller's presence.
func (e *Engine) Heartbeat(ctx context.Context, id domain.Identity, code string, localPosition *float64) (domain.RoomSnapshot, error) {
	if localPosition != nil {
		if err := sanitize.Position(*localPosition, 0); err != nil {
			return domain.RoomSnapshot{}, domain.NewValidationError("localPosition", "must be a non-negative number")
		}
	}
	return e.registry.Touch(code, id.UserID, localPosition)
}

// RoomState returns the room for a poller, refreshing the caller's presence
// when it is a participant.
func (e *Engine) RoomState(ctx context.Context, id domain.Identity, code string) (domain.RoomSnapshot, error) {
	if err := e.allow(ratelimiter.CategoryPoll, id.UserID); err != nil {
		return domain.RoomSnapshot{}, err
	}

	snap, err := e.registry.Touch(code, id.UserID, nil)
	if errors.Is(err, domain.ErrNotParticipant) {
		return e.registry.Get(code)
	}
	return snap, err
}

// ListMessages returns messages after since, oldest first.
func (e *Engine) ListMessages(ctx context.Context, id domain.Identity, code string, since time.Time, limit int) (msgs []domain.ChatMessage, err error) {
	ctx, span := e.start(ctx, "ListMessages", code)
	defer endSpan(span, &err)

	if err := e.allow(ratelimiter.CategoryPoll, id.UserID); err != nil {
		return nil, err
	}

	snap, err := e.registry.Touch(code, id.UserID, nil)
	if err != nil {
		return nil, err
	}
	if e.messages == nil {
		return []domain.ChatMessage{}, nil
	}

	return e.messages.ListMessages(ctx, snap.Code, since, clampLimit(limit))
}

func (e *Engine) ListComments(ctx context.Context, id domain.Identity, code, pageID string) (comments []domain.PanelComment, err error) {
	ctx, span := e.start(ctx, "ListComments", code)
	defer endSpan(span, &err)

	if err := e.allow(ratelimiter.CategoryPoll, id.UserID); err != nil {
		return nil, err
	}
	if pageID != "" {
		if err := sanitize.PageID(pageID); err != nil {
			return nil, err
		}
	}

	snap, err := e.registry.Touch(code, id.UserID, nil)
	if err != nil {
		return nil, err
	}
	if e.comments == nil {
		return []domain.PanelComment{}, nil
	}

	return e.comments.ListComments(ctx, snap.Code, pageID)
}

// History returns the most recent messages replayed to a joining socket.
func (e *Engine) History(ctx context.Context, code string) []domain.ChatMessage {
	if e.messages == nil {
		return nil
	}

	msgs, err := e.messages.ListMessages(ctx, code, time.Time{}, e.historyReplay)
	if err != nil {
		e.logger.Warn(logging.Storage, logging.Select, "failed to load history", map[logging.ExtraKey]any{
			logging.RoomCode:     code,
			logging.ErrorMessage: err.Error(),
		})
		return nil
	}
	return msgs
}

func (e *Engine) roomEvicted(snap domain.RoomSnapshot, reason string) {
	e.broadcast(snap.Code, protocol.RoomDeletedEvent{RoomCode: snap.Code, Reason: reason})
	e.broadcaster.CloseRoom(snap.Code)

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if e.messages != nil {
		if err := e.messages.DeleteMessages(ctx, snap.Code); err != nil {
			e.logger.Warn(logging.Storage, logging.Delete, "failed to drop room messages", map[logging.ExtraKey]any{
				logging.RoomCode:     snap.Code,
				logging.ErrorMessage: err.Error(),
			})
		}
	}
	if e.comments != nil {
		if err := e.comments.DeleteComments(ctx, snap.Code); err != nil {
			e.logger.Warn(logging.Storage, logging.Delete, "failed to drop room comments", map[logging.ExtraKey]any{
				logging.RoomCode:     snap.Code,
				logging.ErrorMessage: err.Error(),
			})
		}
	}

	evType := domain.EventRoomDeleted
	if reason == registry.ReasonExpired {
		evType = domain.EventRoomExpired
	}
	e.emit(ctx, domain.RoomEvent{
		Type:             evType,
		RoomCode:         snap.Code,
		HostID:           snap.HostID,
		ParticipantCount: len(snap.Participants),
		Reason:           reason,
	})
}

func (e *Engine) participantStale(snap domain.RoomSnapshot, p domain.Participant) {
	e.departed(context.Background(), snap, p, "stale")
}

func (e *Engine) broadcast(code string, ev protocol.ServerEvent, exclude ...string) {
	e.broadcaster.Broadcast(code, ev, exclude...)
	e.metrics.EventRelayed(string(ev.EventType()))
}

func (e *Engine) allow(cat ratelimiter.Category, identifier string) error {
	if e.limiter == nil {
		return nil
	}

	d := e.limiter.Check(cat, identifier)
	if d.Allowed {
		return nil
	}

	e.metrics.RateLimited(string(cat))
	e.logger.Warn(logging.General, logging.RateLimiting, "rate limit exceeded", map[logging.ExtraKey]any{
		logging.UserID:     identifier,
		logging.EventType:  string(cat),
		logging.RetryAfter: d.RetryAfterSeconds,
	})
	return &domain.RateLimitError{
		Category:          string(cat),
		RetryAfterSeconds: d.RetryAfterSeconds,
		ResetAt:           d.ResetAt,
	}
}

func (e *Engine) emit(ctx context.Context, ev domain.RoomEvent) {
	if len(e.sinks) == 0 {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.clock.Now()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	for _, sink := range e.sinks {
		if err := sink.HandleRoomEvent(ctx, ev); err != nil {
			e.logger.Warn(logging.Room, logging.ExternalService, "room event sink failed", map[logging.ExtraKey]any{
				logging.RoomCode:     ev.RoomCode,
				logging.EventType:    string(ev.Type),
				logging.ErrorMessage: err.Error(),
			})
		}
	}
}

func (e *Engine) start(ctx context.Context, op, code string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "relay."+op, trace.WithAttributes(attribute.String("room.code", code)))
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, protocol.ServerEvent, ...string) {}
func (nopBroadcaster) CloseRoom(string)                                  {}

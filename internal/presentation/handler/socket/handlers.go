// Package socket is the push binding: one WebSocket per reader, carrying
// tagged JSON events in both directions.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/auth"
	"github.com/hilthontt/readalong/internal/infrastructure/json"
	"github.com/hilthontt/readalong/internal/infrastructure/logging"
	"github.com/hilthontt/readalong/internal/infrastructure/ws"
	"github.com/hilthontt/readalong/internal/presentation/utils"
	"github.com/hilthontt/readalong/internal/registry"
	"github.com/hilthontt/readalong/internal/relay"
	"github.com/hilthontt/readalong/pkg/protocol"
)

type Handler struct {
	engine   *relay.Engine
	core     *ws.Core
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func NewHandler(engine *relay.Engine, core *ws.Core, allowedOrigins []string, logger logging.Logger) *Handler {
	return &Handler{
		engine: engine,
		core:   core,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{auth.SubprotocolBearer},
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

// ServeWS upgrades an authenticated request. When the path names a room the
// connection joins it straight away.
//
//	GET /api/ws, /api/ws/{code}
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	id, err := utils.Identity(r)
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the response
		h.logger.Warn(logging.WebSocket, logging.Connection, "upgrade failed", map[logging.ExtraKey]any{
			logging.UserID:       id.UserID,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	cl, ok := h.core.Register(conn, id)
	if !ok {
		return
	}

	ctx := r.Context()
	if code := chi.URLParam(r, utils.ParamRoomCode); code != "" {
		if err := h.join(ctx, cl, protocol.JoinRoomEvent{RoomCode: code}); err != nil {
			h.sendError(cl, err)
		}
	}

	cl.ReadMessage(ctx, h.dispatch)

	room := cl.Room()
	h.core.Unregister(cl)
	if room != "" {
		h.engine.Disconnect(context.WithoutCancel(ctx), id, room, cl.ID)
	}
}

func (h *Handler) dispatch(ctx context.Context, cl *ws.Client, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error(logging.WebSocket, logging.Frame, "panic while handling event", map[logging.ExtraKey]any{
				logging.SessionID:    cl.ID,
				logging.ErrorMessage: fmt.Sprint(rec),
			})
			cl.SendError(protocol.CodeInternal, "internal error", 0)
		}
	}()

	in, err := protocol.DecodeClientEvent(raw)
	if err != nil {
		code := protocol.CodeMalformedEvent
		if errors.Is(err, protocol.ErrUnknownEvent) {
			code = protocol.CodeUnknownEvent
		}
		cl.SendError(code, err.Error(), 0)
		return
	}

	if err := h.handle(ctx, cl, in); err != nil {
		h.sendError(cl, err)
	}
}

func (h *Handler) handle(ctx context.Context, cl *ws.Client, in protocol.Inbound) error {
	id := cl.Identity
	room := in.RoomCode
	if room == "" {
		room = cl.Room()
	}

	switch ev := in.Event.(type) {
	case protocol.JoinRoomEvent:
		ev.RoomCode = room
		return h.join(ctx, cl, ev)

	case protocol.LeaveRoomEvent:
		if room == "" {
			return nil
		}
		err := h.engine.LeaveRoom(ctx, id, room)
		if room == cl.Room() {
			cl.SetRoom("")
		}
		if errors.Is(err, domain.ErrNotParticipant) {
			return nil
		}
		return err

	case protocol.ScrollSyncEvent:
		return h.engine.UpdatePosition(ctx, id, room, ev.Position, ev.PageIndex)

	case protocol.SyncToggleEvent:
		return h.engine.SetSyncEnabled(ctx, id, room, ev.Enabled)

	case protocol.SendMessageEvent:
		_, err := h.engine.SendMessage(ctx, id, room, ev.Text)
		return err

	case protocol.TypingStartEvent:
		return h.engine.SetTyping(ctx, id, room, true)

	case protocol.TypingStopEvent:
		return h.engine.SetTyping(ctx, id, room, false)

	case protocol.ReactMessageEvent:
		_, err := h.engine.React(ctx, id, room, ev.MessageID, ev.Emoji)
		return err

	case protocol.PanelCommentEvent:
		_, err := h.engine.AddPanelComment(ctx, id, room, relay.CommentInput{
			PageID:   ev.PageID,
			Text:     ev.Text,
			XPercent: ev.XPercent,
			YPercent: ev.YPercent,
		})
		return err

	case protocol.HeartbeatEvent:
		if room == "" {
			return nil
		}
		_, err := h.engine.Heartbeat(ctx, id, room, ev.LocalPosition)
		return err

	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownEvent, in.Event.EventType())
	}
}

// join subscribes the connection before joining so no event published
// after the snapshot is missed; the room state then history follow.
func (h *Handler) join(ctx context.Context, cl *ws.Client, ev protocol.JoinRoomEvent) error {
	code, err := domain.NormalizeCode(ev.RoomCode)
	if err != nil {
		return err
	}

	if prev := cl.Room(); prev != "" && prev != code {
		h.engine.Disconnect(ctx, cl.Identity, prev, cl.ID)
	}
	cl.SetRoom(code)

	res, err := h.engine.JoinRoom(ctx, cl.Identity, code, domain.ContentRef{
		ID:         ev.ContentID,
		TotalPages: ev.TotalPages,
	}, registry.JoinOptions{Transport: domain.TransportPush, SessionID: cl.ID})
	if err != nil {
		cl.SetRoom("")
		return err
	}

	cl.Send(code, relay.RoomState(res.Snapshot))
	for _, msg := range relay.HistoryEvents(h.engine.History(ctx, code)) {
		cl.Send(code, msg)
	}
	return nil
}

func (h *Handler) sendError(cl *ws.Client, err error) {
	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		cl.SendError(protocol.CodeRateLimited, err.Error(), rl.RetryAfterSeconds)
		return
	}

	if errors.Is(err, protocol.ErrUnknownEvent) {
		cl.SendError(protocol.CodeUnknownEvent, err.Error(), 0)
		return
	}

	status, code := json.StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(logging.WebSocket, logging.Frame, "event failed", map[logging.ExtraKey]any{
			logging.SessionID:    cl.ID,
			logging.UserID:       cl.Identity.UserID,
			logging.ErrorMessage: err.Error(),
		})
		cl.SendError(code, "internal error", 0)
		return
	}
	cl.SendError(code, err.Error(), 0)
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

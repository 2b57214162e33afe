package rooms

import (
	"errors"
	"net/http"
	"time"

	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/json"
	"github.com/hilthontt/readalong/internal/infrastructure/logging"
	"github.com/hilthontt/readalong/internal/infrastructure/validate"
	"github.com/hilthontt/readalong/internal/presentation/utils"
	"github.com/hilthontt/readalong/internal/registry"
	"github.com/hilthontt/readalong/internal/relay"
)

var polling = registry.JoinOptions{Transport: domain.TransportPoll}

type Handler struct {
	engine *relay.Engine
	logger logging.Logger
}

func NewHandler(engine *relay.Engine, logger logging.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger,
	}
}

// CreateRoomHandler opens a room with the caller as host.
//
//	POST /api/rooms
func (h *Handler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	id, err := utils.Identity(r)
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	var req createRoomRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	snap, err := h.engine.CreateRoom(r.Context(), id, relay.CreateRoomInput{
		Code:            req.Code,
		ContentID:       req.ContentID,
		TotalPages:      req.TotalPages,
		MaxParticipants: req.MaxParticipants,
		TTL:             time.Duration(req.TTLSeconds) * time.Second,
	}, polling)
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	json.Write(w, http.StatusCreated, relay.RoomState(snap))
}

// GetRoomHandler returns the room state. For participants it doubles as a
// presence refresh.
//
//	GET /api/rooms/{code}
func (h *Handler) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	id, code, ok := h.caller(w, r)
	if !ok {
		return
	}

	snap, err := h.engine.RoomState(r.Context(), id, code)
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	json.Write(w, http.StatusOK, relay.RoomState(snap))
}

// JoinRoomHandler joins the caller, creating the room when the code is new.
//
//	POST /api/rooms/{code}/join
func (h *Handler) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	id, code, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req joinRoomRequest
	if err := readOptional(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	res, err := h.engine.JoinRoom(r.Context(), id, code, domain.ContentRef{
		ID:         req.ContentID,
		TotalPages: req.TotalPages,
	}, polling)
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	json.Write(w, http.StatusOK, joinRoomResponse{
		Room:     relay.RoomState(res.Snapshot),
		Created:  res.Created,
		Rejoined: res.Rejoined,
	})
}

//	POST /api/rooms/{code}/leave
func (h *Handler) LeaveRoomHandler(w http.ResponseWriter, r *http.Request) {
	id, code, ok := h.caller(w, r)
	if !ok {
		return
	}

	if err := h.engine.LeaveRoom(r.Context(), id, code); err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteRoomHandler closes the room. Only the host may do this.
//
//	DELETE /api/rooms/{code}
func (h *Handler) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	id, code, ok := h.caller(w, r)
	if !ok {
		return
	}

	if err := h.engine.DeleteRoom(r.Context(), id, code); err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeactivateRoomHandler makes the room read-only until it expires.
//
//	POST /api/rooms/{code}/deactivate
func (h *Handler) DeactivateRoomHandler(w http.ResponseWriter, r *http.Request) {
	id, code, ok := h.caller(w, r)
	if !ok {
		return
	}

	snap, err := h.engine.DeactivateRoom(r.Context(), id, code)
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	json.Write(w, http.StatusOK, relay.RoomState(snap))
}

// UpdatePositionHandler records the host's reading position. Requests from
// anyone else get the same response and change nothing.
//
//	PATCH /api/rooms/{code}/position
func (h *Handler) UpdatePositionHandler(w http.ResponseWriter, r *http.Request) {
	id, code, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req updatePositionRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	if err := h.engine.UpdatePosition(r.Context(), id, code, *req.Position, *req.PageIndex); err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	json.Write(w, http.StatusOK, updatePositionResponse{Accepted: true})
}

//	PATCH /api/rooms/{code}/sync
func (h *Handler) SetSyncHandler(w http.ResponseWriter, r *http.Request) {
	id, code, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req setSyncRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	if err := h.engine.SetSyncEnabled(r.Context(), id, code, *req.Enabled); err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	json.Write(w, http.StatusOK, setSyncResponse{SyncEnabled: *req.Enabled})
}

// HeartbeatHandler refreshes the caller's presence and returns the room
// state so pollers can follow the host.
//
//	POST /api/rooms/{code}/heartbeat
func (h *Handler) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	id, code, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req heartbeatRequest
	if err := readOptional(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	snap, err := h.engine.Heartbeat(r.Context(), id, code, req.LocalPosition)
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	json.Write(w, http.StatusOK, relay.RoomState(snap))
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (domain.Identity, string, bool) {
	id, err := utils.Identity(r)
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return domain.Identity{}, "", false
	}

	code, err := utils.RoomCode(r)
	if err != nil {
		json.WriteValidationError(w, err)
		return domain.Identity{}, "", false
	}

	return id, code, true
}

// readOptional is json.Read for endpoints whose body may be omitted.
func readOptional(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.Read(w, r, v)
	if errors.Is(err, json.ErrEmptyBody) {
		return nil
	}
	return err
}

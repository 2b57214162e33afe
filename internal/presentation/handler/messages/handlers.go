package messages

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/json"
	"github.com/hilthontt/readalong/internal/infrastructure/logging"
	"github.com/hilthontt/readalong/internal/infrastructure/validate"
	"github.com/hilthontt/readalong/internal/presentation/utils"
	"github.com/hilthontt/readalong/internal/relay"
)

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

// ListMessagesHandler returns messages newer than ?since, oldest first.
//
//	GET /api/rooms/{code}/messages?since=RFC3339&limit=N
func (h *Handler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	id, code, ok := h.caller(w, r)
	if !ok {
		return
	}

	since, err := utils.QueryTime(r, "since")
	if err != nil {
		json.WriteValidationError(w, err)
		return
	}
	limit, err := utils.QueryInt(r, "limit", relay.DefaultListLimit)
	if err != nil {
		json.WriteValidationError(w, err)
		return
	}

	msgs, err := h.engine.ListMessages(r.Context(), id, code, since, limit)
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}

	json.Write(w, http.StatusOK, listMessagesResponse{Messages: msgs})
}

// CreateNewMessageHandler posts a chat message to the room. The stored
// message is echoed to every member, the sender included.
//
//	POST /api/rooms/{code}/messages
func (h *Handler) CreateNewMessageHandler(w http.ResponseWriter, r *http.Request) {
	id, code, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req createMessageRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	msg, err := h.engine.SendMessage(r.Context(), id, code, req.Text)
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	json.Write(w, http.StatusCreated, msg)
}

//	POST /api/rooms/{code}/messages/{messageId}/reactions
func (h *Handler) ReactHandler(w http.ResponseWriter, r *http.Request) {
	id, code, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req reactRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	reaction, err := h.engine.React(r.Context(), id, code, chi.URLParam(r, utils.ParamMessageID), req.Emoji)
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	json.Write(w, http.StatusCreated, reaction)
}

//	POST /api/rooms/{code}/typing
func (h *Handler) TypingHandler(w http.ResponseWriter, r *http.Request) {
	id, code, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req typingRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	if err := h.engine.SetTyping(r.Context(), id, code, *req.Typing); err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
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

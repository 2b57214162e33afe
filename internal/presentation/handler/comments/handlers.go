package comments

import (
	"net/http"

	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/json"
	"github.com/hilthontt/readalong/internal/infrastructure/logging"
	"github.com/hilthontt/readalong/internal/infrastructure/validate"
	"github.com/hilthontt/readalong/internal/presentation/utils"
	"github.com/hilthontt/readalong/internal/relay"
)

type createCommentRequest struct {
	PageID   string   `json:"pageId" validate:"required,max=128"`
	Text     string   `json:"text" validate:"required"`
	XPercent *float64 `json:"xPercent" validate:"required"`
	YPercent *float64 `json:"yPercent" validate:"required"`
}

type listCommentsResponse struct {
	Comments []domain.PanelComment `json:"comments"`
}

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

// ListCommentsHandler returns the room's panel comments, optionally for one
// page.
//
//	GET /api/rooms/{code}/comments?pageId=
func (h *Handler) ListCommentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := utils.Identity(r)
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}
	code, err := utils.RoomCode(r)
	if err != nil {
		json.WriteValidationError(w, err)
		return
	}

	comments, err := h.engine.ListComments(r.Context(), id, code, r.URL.Query().Get("pageId"))
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}
	if comments == nil {
		comments = []domain.PanelComment{}
	}

	json.Write(w, http.StatusOK, listCommentsResponse{Comments: comments})
}

//	POST /api/rooms/{code}/comments
func (h *Handler) CreateCommentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := utils.Identity(r)
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}
	code, err := utils.RoomCode(r)
	if err != nil {
		json.WriteValidationError(w, err)
		return
	}

	var req createCommentRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	comment, err := h.engine.AddPanelComment(r.Context(), id, code, relay.CommentInput{
		PageID:   req.PageID,
		Text:     req.Text,
		XPercent: *req.XPercent,
		YPercent: *req.YPercent,
	})
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	json.Write(w, http.StatusCreated, comment)
}

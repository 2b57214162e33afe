// Package tokens mints bearer tokens for local development. It is mounted
// only when auth.dev_tokens is set.
package tokens

import (
	"net/http"
	"time"

	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/json"
	"github.com/hilthontt/readalong/internal/infrastructure/logging"
	"github.com/hilthontt/readalong/internal/infrastructure/sanitize"
	"github.com/hilthontt/readalong/internal/infrastructure/validate"
	"github.com/hilthontt/readalong/internal/presentation/utils"
)

type Issuer interface {
	Issue(id domain.Identity) (string, error)
}

type issueTokenRequest struct {
	UserID   string `json:"userId" validate:"required,max=64"`
	Username string `json:"username" validate:"max=64"`
}

type issueTokenResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	ExpiresIn int       `json:"expiresIn"`
	IssuedAt  time.Time `json:"issuedAt"`
}

type Handler struct {
	issuer Issuer
	ttl    time.Duration
	logger logging.Logger
}

func NewHandler(issuer Issuer, ttl time.Duration, logger logging.Logger) *Handler {
	return &Handler{issuer: issuer, ttl: ttl, logger: logger}
}

//	POST /api/dev/token
func (h *Handler) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	id := domain.Identity{
		UserID:      req.UserID,
		DisplayName: sanitize.DisplayName(req.Username, req.UserID),
	}
	token, err := h.issuer.Issue(id)
	if err != nil {
		utils.WriteError(w, r, h.logger, err)
		return
	}

	json.Write(w, http.StatusCreated, issueTokenResponse{
		Token:     token,
		UserID:    id.UserID,
		Username:  id.DisplayName,
		ExpiresIn: int(h.ttl.Seconds()),
		IssuedAt:  time.Now().UTC(),
	})
}

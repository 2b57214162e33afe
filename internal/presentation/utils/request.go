package utils

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/json"
	"github.com/hilthontt/readalong/internal/infrastructure/logging"
)

// URL parameter names used by the room routes.
const (
	ParamRoomCode  = "code"
	ParamMessageID = "messageId"
)

// Identity returns the caller set by the auth middleware.
func Identity(r *http.Request) (domain.Identity, error) {
	id, ok := domain.IdentityFromContext(r.Context())
	if !ok || id.UserID == "" {
		return domain.Identity{}, domain.ErrAuthenticationRequired
	}
	return id, nil
}

// RoomCode returns the normalized room code from the path.
func RoomCode(r *http.Request) (string, error) {
	return domain.NormalizeCode(chi.URLParam(r, ParamRoomCode))
}

// ClientIP prefers the address chi's RealIP middleware left in RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// QueryTime parses an RFC3339 query parameter. A missing value is the
// zero time.
func QueryTime(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, domain.NewValidationError(key, "must be an RFC3339 timestamp")
	}
	return t, nil
}

// QueryInt parses an integer query parameter, returning def when absent.
func QueryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(key, "must be an integer")
	}
	return n, nil
}

// WriteError writes err through the domain error mapping and logs it when
// it was unexpected.
func WriteError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error) {
	if json.WriteDomainError(w, err) {
		logger.Error(logging.RequestResponse, logging.ExternalService, "request failed", map[logging.ExtraKey]any{
			logging.Method:       r.Method,
			logging.Path:         r.URL.Path,
			logging.ErrorMessage: err.Error(),
		})
	}
}

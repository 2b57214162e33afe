package json

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/pkg/protocol"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

type RateLimitResponse struct {
	ErrorResponse
	Remaining         int       `json:"remaining"`
	ResetAt           time.Time `json:"resetAt"`
	RetryAfterSeconds int       `json:"retryAfterSeconds"`
}

// Error codes are shared with the push binding.
const (
	CodeAuthRequired      = protocol.CodeAuthRequired
	CodeInvalidCredential = protocol.CodeInvalidCredential
	CodeRoomNotFound      = protocol.CodeRoomNotFound
	CodeRoomExists        = protocol.CodeRoomExists
	CodeRoomInactive      = protocol.CodeRoomInactive
	CodeRoomFull          = protocol.CodeRoomFull
	CodeTooManyRooms      = protocol.CodeTooManyRooms
	CodeForbidden         = protocol.CodeForbidden
	CodeNotParticipant    = protocol.CodeNotParticipant
	CodeValidation        = protocol.CodeValidation
	CodeRateLimited       = protocol.CodeRateLimited
	CodeInternal          = protocol.CodeInternal
)

func WriteError(w http.ResponseWriter, status int, code, msg string) {
	Write(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: msg,
		Code:    code,
	})
}

func WriteValidationError(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusBadRequest, CodeValidation, err.Error())
}

func WriteBadRequestError(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusBadRequest, CodeValidation, msg)
}

func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred")
}

func WriteRateLimitError(w http.ResponseWriter, rl *domain.RateLimitError) {
	retryAfter := rl.RetryAfterSeconds
	if retryAfter < 1 {
		retryAfter = 1
	}

	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

	Write(w, http.StatusTooManyRequests, RateLimitResponse{
		ErrorResponse: ErrorResponse{
			Error:   http.StatusText(http.StatusTooManyRequests),
			Message: "Too many requests. Please try again later.",
			Code:    CodeRateLimited,
		},
		Remaining:         0,
		ResetAt:           rl.ResetAt.UTC(),
		RetryAfterSeconds: retryAfter,
	})
}

// StatusFor maps a domain error to an HTTP status and an error code.
// Unknown errors map to 500.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrAuthenticationRequired):
		return http.StatusUnauthorized, CodeAuthRequired
	case errors.Is(err, domain.ErrInvalidCredential):
		return http.StatusUnauthorized, CodeInvalidCredential
	case errors.Is(err, domain.ErrRoomNotFound):
		return http.StatusNotFound, CodeRoomNotFound
	case errors.Is(err, domain.ErrRoomAlreadyExists):
		return http.StatusConflict, CodeRoomExists
	case errors.Is(err, domain.ErrRoomInactive):
		return http.StatusGone, CodeRoomInactive
	case errors.Is(err, domain.ErrRoomFull):
		return http.StatusConflict, CodeRoomFull
	case errors.Is(err, domain.ErrTooManyRooms):
		return http.StatusServiceUnavailable, CodeTooManyRooms
	case errors.Is(err, domain.ErrNotHost), errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, domain.ErrNotParticipant):
		return http.StatusForbidden, CodeNotParticipant
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// WriteDomainError writes err with the status StatusFor picks. It reports
// whether err was unexpected so the caller can log it.
func WriteDomainError(w http.ResponseWriter, err error) (unexpected bool) {
	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		WriteRateLimitError(w, rl)
		return false
	}

	status, code := StatusFor(err)
	if status == http.StatusInternalServerError {
		WriteInternalError(w)
		return true
	}
	WriteError(w, status, code, err.Error())
	return false
}

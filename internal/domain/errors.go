package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrInvalidCredential      = errors.New("invalid or expired credential")
	ErrCredentialExpired      = fmt.Errorf("%w: credential expired", ErrInvalidCredential)
	ErrCredentialMalformed    = fmt.Errorf("%w: credential malformed", ErrInvalidCredential)
	ErrSignatureMismatch      = fmt.Errorf("%w: signature mismatch", ErrInvalidCredential)

	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomAlreadyExists = errors.New("room already exists")
	ErrRoomInactive      = errors.New("room is inactive")
	ErrRoomFull          = errors.New("room is full")
	ErrTooManyRooms      = errors.New("room capacity reached")
	ErrNotHost           = errors.New("only the host can do this")
	ErrForbidden         = errors.New("forbidden")
	ErrNotParticipant    = errors.New("not a participant of this room")

	ErrValidation   = errors.New("validation failed")
	ErrInvalidInput = errors.New("invalid input")
	ErrRateLimited  = errors.New("rate limited")
)

// ValidationError names the offending field. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RateLimitError is returned when a rate limit category rejects a caller.
// It matches ErrRateLimited.
type RateLimitError struct {
	Category          string
	RetryAfterSeconds int
	ResetAt           time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %ds", e.Category, e.RetryAfterSeconds)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

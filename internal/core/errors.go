package core

import (
	"errors"
	"fmt"

	"github.com/tg11/boundless/internal/access"
	"github.com/tg11/boundless/internal/store"
)

// Error codes for domain errors.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeNotOwner         = "not_owner"
	ErrCodeAlreadyDeleted   = "already_deleted"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeNotJoined        = "not_joined"
	ErrCodeMessageTooLong   = "message_too_long"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeShuttingDown     = "shutting_down"
	ErrCodeInternal         = "internal_error"
)

var (
	ErrAccessDenied   = errors.New("access denied")
	ErrNotJoined      = errors.New("session is not joined")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
	ErrShuttingDown   = errors.New("server is shutting down")
)

// DeniedError reports an access policy deny.
type DeniedError struct {
	Reason access.Reason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied: %s", e.Reason)
}

// Is lets errors.Is(err, ErrAccessDenied) match any DeniedError.
func (e *DeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ToCoreError maps an error returned by the Hub to a wire-level code.
func ToCoreError(err error) *CoreError {
	var denied *DeniedError
	var ce *CoreError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce):
		return ce
	case errors.As(err, &denied):
		return coreError(ErrCodeForbidden, denied.Error())
	case errors.Is(err, store.ErrChannelNotFound), errors.Is(err, store.ErrMessageNotFound):
		return coreError(ErrCodeNotFound, err.Error())
	case errors.Is(err, store.ErrNotOwner):
		return coreError(ErrCodeNotOwner, err.Error())
	case errors.Is(err, store.ErrAlreadyDeleted):
		return coreError(ErrCodeAlreadyDeleted, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		return coreError(ErrCodeStoreUnavailable, "message could not be stored")
	case errors.Is(err, ErrNotJoined):
		return coreError(ErrCodeNotJoined, err.Error())
	case errors.Is(err, ErrEmptyMessage):
		return coreError(ErrCodeBadRequest, err.Error())
	case errors.Is(err, ErrMessageTooLong):
		return coreError(ErrCodeMessageTooLong, err.Error())
	case errors.Is(err, ErrShuttingDown):
		return coreError(ErrCodeShuttingDown, err.Error())
	default:
		return coreError(ErrCodeInternal, "internal error")
	}
}

package apierr

import (
	"errors"
	"fmt"
	"net/http"

	perrors "github.com/yungbote/paperbridge-backend/internal/pkg/errors"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// FromError maps the domain error taxonomy onto an HTTP status and code.
// Errors that already carry an *Error are returned as-is.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	// a stage error keeps its stage status whatever cause it wraps
	case errors.Is(err, perrors.ErrStageFailed):
		return New(http.StatusUnprocessableEntity, "stage_failed", err)
	case errors.Is(err, perrors.ErrPathEscape):
		return New(http.StatusBadRequest, "path_escape", err)
	case errors.Is(err, perrors.ErrInvalidInput):
		return New(http.StatusBadRequest, "invalid_input", err)
	case errors.Is(err, perrors.ErrNotFound):
		return New(http.StatusNotFound, "not_found", err)
	case errors.Is(err, perrors.ErrConflict):
		return New(http.StatusConflict, "conflict", err)
	case errors.Is(err, perrors.ErrStorageIO):
		return New(http.StatusInternalServerError, "storage_io", err)
	default:
		return New(http.StatusInternalServerError, "internal", err)
	}
}

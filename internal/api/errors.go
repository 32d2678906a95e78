package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-tweetchat/internal/auth"
	"github.com/npezzotti/go-tweetchat/internal/database"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

// NewValidationError is a 400 carrying a user-correctable message.
func NewValidationError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    err.Error(),
		Err:        err,
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewForbiddenError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    lower(http.StatusText(http.StatusForbidden)),
	}
}

// errorFromStore maps a comment store failure to its HTTP form. Internal
// detail never reaches the message.
func errorFromStore(err error) *ApiError {
	var verr *database.ValidationError
	switch {
	case errors.As(err, &verr):
		return NewValidationError(verr)
	case errors.Is(err, database.ErrValidation):
		return NewBadRequestError()
	case errors.Is(err, auth.ErrUnauthorized):
		return NewUnauthorizedError()
	case errors.Is(err, database.ErrForbidden):
		e := NewForbiddenError()
		e.Message = "you can only delete your own comments"
		return e
	case errors.Is(err, database.ErrNotFound):
		e := NewNotFoundError()
		e.Message = "comment not found"
		return e
	default:
		return NewInternalServerError(err)
	}
}

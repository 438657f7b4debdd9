package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-livechat/internal/database"
	"github.com/npezzotti/go-livechat/internal/server"
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

func newStatusError(code int, err error) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    lower(http.StatusText(code)),
		Err:        err,
	}
}

func NewBadRequestError() *ApiError {
	return newStatusError(http.StatusBadRequest, nil)
}

func NewNotFoundError() *ApiError {
	return newStatusError(http.StatusNotFound, nil)
}

func NewConflictError() *ApiError {
	return newStatusError(http.StatusConflict, nil)
}

func NewInternalServerError(err error) *ApiError {
	return newStatusError(http.StatusInternalServerError, err)
}

func NewUnauthorizedError() *ApiError {
	return newStatusError(http.StatusUnauthorized, nil)
}

func NewForbiddenError() *ApiError {
	return newStatusError(http.StatusForbidden, nil)
}

func NewServiceUnavailableError(err error) *ApiError {
	return newStatusError(http.StatusServiceUnavailable, err)
}

// apiErrorFrom converts repository and chat errors into an ApiError.
// Chat errors keep the code and text the websocket transport uses.
func apiErrorFrom(err error) *ApiError {
	var apiErr *ApiError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, database.ErrNotFound):
		return NewNotFoundError()
	case errors.Is(err, database.ErrConflict):
		return NewConflictError()
	}

	resp := server.ErrResponse(0, err).Response
	return &ApiError{
		StatusCode: resp.ResponseCode,
		Message:    resp.Error,
		Err:        err,
	}
}

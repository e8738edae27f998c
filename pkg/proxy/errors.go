package proxy

import (
	"errors"
	"fmt"
	"net/http"
)

// Fixed response bodies.
const (
	MessageNotAllowed     = "Not allowed"
	MessageUpstreamFailed = "Failed to process request"
	MessageInternal       = "Internal Server Error"
)

// ErrUpstreamUnavailable reports a failed fetch or a rejected origin status.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// StatusError maps a pipeline failure onto the fixed response written to the client.
type StatusError struct {
	Code    int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%d %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func rejected(err error) *StatusError {
	return &StatusError{Code: http.StatusForbidden, Message: MessageNotAllowed, Err: err}
}

func upstreamFailed(err error) *StatusError {
	return &StatusError{Code: http.StatusBadGateway, Message: MessageUpstreamFailed, Err: err}
}

func internalError(err error) *StatusError {
	return &StatusError{Code: http.StatusInternalServerError, Message: MessageInternal, Err: err}
}

// asStatusError classifies err, treating anything unrecognised as internal.
func asStatusError(err error) *StatusError {
	var se *StatusError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		return upstreamFailed(err)
	}
	return internalError(err)
}

package response

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error carries the HTTP status an error should be reported with
type Error struct {
	Code int
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	ok := errors.As(target, &t)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Err.Error() == t.Err.Error()
}

func NewError(code int, err string) error {
	return &Error{code, errors.New(err)}
}

// Wrap attaches an HTTP status to err
func Wrap(code int, err error) error {
	if err == nil {
		return nil
	}
	return &Error{code, err}
}

// Errorf formats a message and attaches an HTTP status to it
func Errorf(code int, format string, args ...any) error {
	return &Error{code, fmt.Errorf(format, args...)}
}

// Remote reports a failed call to an upstream service: 504 when it ran out
// of time, 502 otherwise. Errors that already carry a status pass through.
func Remote(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{http.StatusGatewayTimeout, err}
	}
	return &Error{http.StatusBadGateway, err}
}

// BadRequest attaches a 400 to err
func BadRequest(err error) error {
	return Wrap(http.StatusBadRequest, err)
}

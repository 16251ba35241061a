package response

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a domain error that carries the HTTP status it maps to.
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

// Wrap keeps the status of a domain error while adding detail to its message.
func Wrap(base error, detail error) error {
	var respErr *Error
	if !errors.As(base, &respErr) {
		return fmt.Errorf("%w: %v", base, detail)
	}
	return &Error{respErr.Code, fmt.Errorf("%w: %v", base, detail)}
}

// StatusCode returns the HTTP status attached to err, or 500.
func StatusCode(err error) int {
	var respErr *Error
	if errors.As(err, &respErr) {
		return respErr.Code
	}
	return http.StatusInternalServerError
}

// Package apperr defines the error taxonomy returned by the access-control core.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for use with errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrRateLimited  = errors.New("rate limited")
	ErrIPBlocked    = errors.New("ip blocked")
	ErrCSRFInvalid  = errors.New("csrf token invalid")
	ErrInternal     = errors.New("internal error")
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("not found")
)

// Stable error codes exposed to API callers.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeRateLimited  = "RATE_LIMITED"
	CodeIPBlocked    = "IP_BLOCKED"
	CodeCSRFInvalid  = "CSRF_INVALID"
	CodeInternal     = "INTERNAL_ERROR"
	CodeBadRequest   = "BAD_REQUEST"
	CodeNotFound     = "NOT_FOUND"
)

// Error is a classified error carrying a stable code.
type Error struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil && !isSentinel(e.Err) {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Reason != "" {
		return e.Message + ": " + e.Reason
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an *Error against the sentinel for its code even when Err
// wraps some other cause.
func (e *Error) Is(target error) bool {
	return sentinelFor(e.Code) == target
}

func newError(code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Timestamp: time.Now().UTC(), Err: err}
}

// Unauthorized means no valid identity was presented.
func Unauthorized(msg string) *Error {
	return newError(CodeUnauthorized, msg, ErrUnauthorized)
}

// Forbidden means an identity was presented but the permission check denied it.
func Forbidden(msg string) *Error {
	return newError(CodeForbidden, msg, ErrForbidden)
}

// RateLimited is returned when the rate-limit collaborator rejects a request.
func RateLimited(msg string) *Error {
	return newError(CodeRateLimited, msg, ErrRateLimited)
}

// IPBlocked is returned for traffic from a blocked address.
func IPBlocked(ip string) *Error {
	return newError(CodeIPBlocked, "access from this address is blocked", ErrIPBlocked)
}

// CSRFInvalid carries the exact validation reason.
func CSRFInvalid(reason string) *Error {
	e := newError(CodeCSRFInvalid, "invalid CSRF token", ErrCSRFInvalid)
	e.Reason = reason
	return e
}

// BadRequest rejects malformed input.
func BadRequest(msg string) *Error {
	return newError(CodeBadRequest, msg, ErrBadRequest)
}

// NotFound is returned when the addressed event, block or user does not exist.
func NotFound(msg string) *Error {
	return newError(CodeNotFound, msg, ErrNotFound)
}

// Internal wraps a persistence or configuration failure.
func Internal(msg string, err error) *Error {
	if err == nil {
		err = ErrInternal
	}
	return newError(CodeInternal, msg, err)
}

// CodeOf returns the code of err, or CodeInternal if err is not classified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// From converts any error to an *Error, classifying unknown errors as internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("internal error", err)
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeIPBlocked, CodeCSRFInvalid:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func sentinelFor(code string) error {
	switch code {
	case CodeUnauthorized:
		return ErrUnauthorized
	case CodeForbidden:
		return ErrForbidden
	case CodeRateLimited:
		return ErrRateLimited
	case CodeIPBlocked:
		return ErrIPBlocked
	case CodeCSRFInvalid:
		return ErrCSRFInvalid
	case CodeBadRequest:
		return ErrBadRequest
	case CodeNotFound:
		return ErrNotFound
	}
	return ErrInternal
}

func isSentinel(err error) bool {
	switch err {
	case ErrUnauthorized, ErrForbidden, ErrRateLimited, ErrIPBlocked, ErrCSRFInvalid, ErrInternal, ErrBadRequest, ErrNotFound:
		return true
	}
	return false
}

// Package apperr defines the error kinds surfaced by the orchestration core.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for HTTP status mapping.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindUnauthorized    Kind = "unauthorized"
	KindEmptyQueue      Kind = "empty_queue"
	KindInvalidSession  Kind = "invalid_session"
	KindInvalidArgument Kind = "invalid_argument"
	KindConflict        Kind = "conflict"
	KindInternal        Kind = "internal"
)

var kind2http = map[Kind]int{
	KindNotFound:        http.StatusNotFound,
	KindUnauthorized:    http.StatusUnauthorized,
	KindEmptyQueue:      http.StatusConflict,
	KindInvalidSession:  http.StatusBadRequest,
	KindInvalidArgument: http.StatusBadRequest,
	KindConflict:        http.StatusConflict,
	KindInternal:        http.StatusInternalServerError,
}

var defaultMessages = map[Kind]string{
	KindNotFound:        "not found",
	KindUnauthorized:    "unauthorized",
	KindEmptyQueue:      "queue is empty",
	KindInvalidSession:  "invalid session",
	KindInvalidArgument: "invalid argument",
	KindConflict:        "conflict",
	KindInternal:        "internal error",
}

type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	err     error
}

func New(kind Kind, opts ...Option) *Error {
	e := &Error{
		Kind:    kind,
		Message: defaultMessages[kind],
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("kind: %s, message: %s", e.Kind, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches another *Error by kind, so errors.Is(err, apperr.New(KindEmptyQueue)) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := kind2http[e.Kind]; ok {
		return c
	}

	return http.StatusInternalServerError
}

// Convert returns err as an *Error, wrapping unknown errors as internal.
func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	return Convert(err).Kind
}

func Internal(err error) *Error {
	return New(KindInternal, WithCause(err))
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, WithMessagef(format, args...))
}

func InvalidArgument(format string, args ...any) *Error {
	return New(KindInvalidArgument, WithMessagef(format, args...))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}

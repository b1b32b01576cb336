package common

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidActor        Kind = "InvalidActor"
	KindWrongState          Kind = "WrongState"
	KindInsufficientBalance Kind = "InsufficientBalance"
	KindInvalidScore        Kind = "InvalidScore"
	KindConflict            Kind = "Conflict"
	KindNotFound            Kind = "NotFound"
	KindPolicyViolation     Kind = "PolicyViolation"
	KindUnavailable         Kind = "Unavailable"
	KindInvalidArgument     Kind = "InvalidArgument"
)

// Error is the typed rejection returned by every command. A command that
// returns an Error has not changed any persisted state.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so errors.Is(err, common.ErrConflict) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Message == "" && t.Kind == e.Kind
}

var (
	ErrInvalidActor        = &Error{Kind: KindInvalidActor}
	ErrWrongState          = &Error{Kind: KindWrongState}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrInvalidScore        = &Error{Kind: KindInvalidScore}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrPolicyViolation     = &Error{Kind: KindPolicyViolation}
	ErrUnavailable         = &Error{Kind: KindUnavailable}
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument}
)

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Unavailable(err error, format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or an empty kind for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidActor:
		return http.StatusForbidden
	case KindWrongState:
		return http.StatusConflict
	case KindConflict:
		return http.StatusPreconditionFailed
	case KindInsufficientBalance:
		return http.StatusPaymentRequired
	case KindInvalidScore, KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

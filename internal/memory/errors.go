package memory

import (
	"errors"
	"fmt"

	"github.com/rcliao/memoria/internal/model"
)

// Kind categorizes memory errors.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindCapacity      Kind = "capacity"
	KindExternal      Kind = "external"
	KindPersistence   Kind = "persistence"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
)

// Sentinels for errors.Is; each matches any *Error of the same kind.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrCapacity     = &Error{Kind: KindCapacity}
	ErrExternal     = &Error{Kind: KindExternal}
	ErrPersistence  = &Error{Kind: KindPersistence}
	ErrUnauthorized = &Error{Kind: KindAuthorization}
	ErrNotFound     = &Error{Kind: KindNotFound}
)

// Error is a memory operation failure with its category and store.
type Error struct {
	Op    string
	Kind  Kind
	Store model.StoreName
	Err   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + " (" + msg + ")"
	}
	if e.Store != "" {
		msg = string(e.Store) + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, so errors.Is(err, ErrValidation) holds for any validation error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind != "" && t.Kind == e.Kind && (t.Store == "" || t.Store == e.Store)
}

func newError(op string, kind Kind, store model.StoreName, err error) *Error {
	return &Error{Op: op, Kind: kind, Store: store, Err: err}
}

func errorf(op string, kind Kind, store model.StoreName, format string, args ...any) *Error {
	return newError(op, kind, store, fmt.Errorf(format, args...))
}

// KindOf returns the kind of err, or "" if it is not a memory error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

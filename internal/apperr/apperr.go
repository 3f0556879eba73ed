// Package apperr defines the error kinds shared across gw2link packages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by where it originated.
type Kind string

const (
	KindTransport Kind = "transport"
	KindProtocol  Kind = "protocol"
	KindDomain    Kind = "domain"
	KindNotFound  Kind = "notfound"
	KindCancelled Kind = "cancelled"
	KindConfig    Kind = "config"
	KindStorage   Kind = "storage"
)

// Error carries a Kind and the operation that failed alongside the cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap tags err with kind. A nil err yields nil and an already tagged error is
// returned as is so the innermost kind wins.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

// New creates an error of the given kind without a cause.
func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// IsKind reports whether the first tagged error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first tagged error in the chain, or "" when none is tagged.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}

// Package apperr defines the error kinds shared across the service.
//
// Every error that crosses a component boundary carries a Kind so callers can
// decide between rejecting, retrying, or surfacing it without string matching.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindProviderTransient
	KindProviderPermanent
	KindRetryExhausted
	KindExpired
	KindDuplicateCallback
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindProviderTransient:
		return "provider_transient"
	case KindProviderPermanent:
		return "provider_permanent"
	case KindRetryExhausted:
		return "retry_exhausted"
	case KindExpired:
		return "expired"
	case KindDuplicateCallback:
		return "duplicate_callback"
	default:
		return "internal"
	}
}

// Error is a classified error. Code is an optional machine-readable detail
// (for example a provider error code).
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrNotFound)
// works regardless of message or code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Code == "" && t.Kind == e.Kind
}

var (
	ErrInternal          = &Error{Kind: KindInternal}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrProviderTransient = &Error{Kind: KindProviderTransient}
	ErrProviderPermanent = &Error{Kind: KindProviderPermanent}
	ErrRetryExhausted    = &Error{Kind: KindRetryExhausted}
	ErrExpired           = &Error{Kind: KindExpired}
	ErrDuplicateCallback = &Error{Kind: KindDuplicateCallback}
)

func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithCode builds a classified error carrying a provider or domain code.
func WithCode(kind Kind, code, msg string) error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

func Validation(format string, args ...any) error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...any) error {
	return New(KindNotFound, format, args...)
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the first non-empty code in the chain.
func CodeOf(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code != "" {
			return e.Code
		}
		err = errors.Unwrap(err)
	}
	return ""
}

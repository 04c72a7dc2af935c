// Package fault carries the closed error taxonomy shared by the resolve
// and install pipeline. Kinds decide recovery: NotFound and RateLimited
// advance to the next source, Malformed and IOFailure fail the title,
// ConfigSectionMissing aborts a merge without touching the file.
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindMalformed
	KindRateLimited
	KindIOFailure
	KindConfigSectionMissing
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindMalformed:
		return "malformed"
	case KindRateLimited:
		return "rate-limited"
	case KindIOFailure:
		return "io-failure"
	case KindConfigSectionMissing:
		return "config-section-missing"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the taxonomy kind of err, or KindUnknown for errors
// produced outside the pipeline.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool    { return KindOf(err) == KindNotFound }
func IsMalformed(err error) bool   { return KindOf(err) == KindMalformed }
func IsRateLimited(err error) bool { return KindOf(err) == KindRateLimited }

// Recoverable reports whether the pipeline may continue with the next
// source after err.
func Recoverable(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindRateLimited, KindMalformed:
		return true
	default:
		return false
	}
}

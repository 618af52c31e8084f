// Package roierr defines the error kinds shared by the ROI location packages.
//
// Configuration errors abort a run before any subject is processed.
// Registration and coordinate-range errors are local to one subject or ROI:
// a batch reports them and moves on.
package roierr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	KindOther Kind = iota
	KindConfiguration
	KindRegistration
	KindCoordinateRange
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindRegistration:
		return "registration error"
	case KindCoordinateRange:
		return "coordinate range error"
	default:
		return "error"
	}
}

var (
	ErrConfiguration   = errors.New("configuration error")
	ErrRegistration    = errors.New("registration error")
	ErrCoordinateRange = errors.New("coordinate range error")
)

// Error carries a kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrRegistration:
		return e.Kind == KindRegistration
	case ErrCoordinateRange:
		return e.Kind == KindCoordinateRange
	}
	return false
}

// Configuration builds a configuration error.
func Configuration(op string, format string, args ...interface{}) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

// Registration wraps a failure of the registration collaborator.
func Registration(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindRegistration, Op: op, Err: err}
}

// CoordinateRange builds a coordinate range error.
func CoordinateRange(op string, format string, args ...interface{}) error {
	return &Error{Kind: KindCoordinateRange, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

package messaging

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Match with errors.Is.
var (
	ErrInvalidParticipants = errors.New("invalid participants")
	ErrValidation          = errors.New("validation failed")
	ErrPersistence         = errors.New("persistence failed")
	ErrSubscription        = errors.New("subscription failed")
	ErrSearchScan          = errors.New("search scan failed")
	ErrForbidden           = errors.New("forbidden")
	ErrPartialDelivery     = errors.New("partial delivery")
)

// OpError is a typed operation error. Kind is one of the sentinel kinds above;
// Err is the underlying cause, if any.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *OpError) Error() string {
	s := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the cause.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opErr(op string, kind error, msg string, cause error) error {
	return &OpError{Op: op, Kind: kind, Msg: msg, Err: cause}
}

// persistErr wraps a backend failure unless it already carries a kind.
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return opErr(op, ErrPersistence, "", err)
}

func IsInvalidParticipants(err error) bool { return errors.Is(err, ErrInvalidParticipants) }
func IsValidation(err error) bool          { return errors.Is(err, ErrValidation) }
func IsPersistence(err error) bool         { return errors.Is(err, ErrPersistence) }
func IsSubscription(err error) bool        { return errors.Is(err, ErrSubscription) }
func IsForbidden(err error) bool           { return errors.Is(err, ErrForbidden) }
func IsPartialDelivery(err error) bool     { return errors.Is(err, ErrPartialDelivery) }

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a request missing a required field or carrying an unusable value.
	ErrValidation = errors.New("validation failed")
	// ErrRender marks a failure to launch, load or export in the rendering engine.
	ErrRender = errors.New("render failed")
	// ErrDispatch marks a job rejected by the OS print spooler.
	ErrDispatch = errors.New("print dispatch failed")
	// ErrDirectory marks a failure to query the OS printer registry.
	ErrDirectory = errors.New("printer directory unavailable")
	// ErrIO marks a temporary file write or delete failure.
	ErrIO = errors.New("temporary file i/o failed")
)

// Wrap tags err with kind so callers can classify it with errors.Is while
// keeping the underlying message.
func Wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// ValidationError carries a client-facing message and matches ErrValidation.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ClientMessage returns the message of the first ValidationError in err's
// chain, or "" if there is none.
func ClientMessage(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Msg
	}
	return ""
}

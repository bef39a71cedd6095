// Package fault defines the error taxonomy shared by the capture adapter and
// the session controller.
//
// Every engine failure that crosses the adapter boundary is translated into an
// *Error carrying one of the Code constants below. Callers classify errors with
// the IsXxx helpers, which use errors.As so wrapped errors still match.
package fault

import (
	"errors"
	"fmt"
)

// Code categorizes a scan-session error.
type Code string

const (
	// CodeEngineInit indicates the capture engine failed to initialize
	// (bad credential, no camera, unreachable library).
	CodeEngineInit Code = "ENGINE_INIT"

	// CodeAttach indicates the engine could not bind its view to a surface.
	CodeAttach Code = "ATTACH"

	// CodeDetach indicates a teardown step failed.
	CodeDetach Code = "DETACH"

	// CodeCamera indicates a camera power toggle failed.
	CodeCamera Code = "CAMERA"

	// CodeDetection indicates a detection toggle failed.
	CodeDetection Code = "DETECTION"

	// CodeTransitionRejected indicates the command was refused because another
	// transition is in flight or the current state does not accept it.
	CodeTransitionRejected Code = "TRANSITION_REJECTED"

	// CodeNotReady indicates the engine has not finished initialization.
	CodeNotReady Code = "NOT_READY"

	// CodePersistenceRead indicates the stored inventory snapshot could not be read.
	CodePersistenceRead Code = "PERSISTENCE_READ"
)

// Error is a categorized scan-session error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the operation that failed (e.g. "open", "attach").
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, usually the raw engine fault.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error without an underlying cause.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Wrap categorizes err under code. Returns nil if err is nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf returns the code of the outermost *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code, true
	}
	return "", false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsEngineInitError returns true if err is an engine initialization failure.
func IsEngineInitError(err error) bool {
	return Is(err, CodeEngineInit)
}

// IsAttachError returns true if err is a view attach failure.
func IsAttachError(err error) bool {
	return Is(err, CodeAttach)
}

// IsDetachError returns true if err is a teardown failure.
func IsDetachError(err error) bool {
	return Is(err, CodeDetach)
}

// IsTransitionRejected returns true if the command was refused.
func IsTransitionRejected(err error) bool {
	return Is(err, CodeTransitionRejected)
}

// IsNotReady returns true if the engine was not yet initialized.
func IsNotReady(err error) bool {
	return Is(err, CodeNotReady)
}

// IsRetryable returns true if the operator can usefully reissue the command.
//
// ENGINE_INIT and ATTACH surface a retry affordance. TRANSITION_REJECTED and
// NOT_READY clear on their own once the in-flight work settles.
func IsRetryable(err error) bool {
	c, ok := CodeOf(err)
	if !ok {
		return false
	}
	switch c {
	case CodeEngineInit, CodeAttach, CodeTransitionRejected, CodeNotReady:
		return true
	default:
		return false
	}
}

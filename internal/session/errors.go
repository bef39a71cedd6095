package session

import (
	"fmt"

	"github.com/roach88/stockscan/internal/fault"
)

// Error is the categorized error every controller command returns.
type Error = fault.Error

// IsEngineInitError returns true if err is an engine initialization failure.
func IsEngineInitError(err error) bool { return fault.IsEngineInitError(err) }

// IsAttachError returns true if err is a view attach failure.
func IsAttachError(err error) bool { return fault.IsAttachError(err) }

// IsDetachError returns true if err is a teardown failure.
func IsDetachError(err error) bool { return fault.IsDetachError(err) }

// IsTransitionRejected returns true if the command was refused.
func IsTransitionRejected(err error) bool { return fault.IsTransitionRejected(err) }

// IsNotReady returns true if the engine was not yet initialized.
func IsNotReady(err error) bool { return fault.IsNotReady(err) }

// IsRetryable returns true if the operator can usefully reissue the command.
func IsRetryable(err error) bool { return fault.IsRetryable(err) }

func busyError(cmd, inFlight Command) *Error {
	return fault.New(fault.CodeTransitionRejected, string(cmd), fmt.Sprintf("%s in flight", inFlight))
}

func invalidError(cmd Command, from State) *Error {
	return fault.New(fault.CodeTransitionRejected, string(cmd), fmt.Sprintf("not allowed from %s", from))
}

func notReadyError(cmd Command) *Error {
	return fault.New(fault.CodeNotReady, string(cmd), "capture engine not initialized")
}

// categorize makes sure err carries a code, using code for raw errors.
func categorize(code fault.Code, cmd Command, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := fault.CodeOf(err); ok {
		return err
	}
	return fault.Wrap(code, string(cmd), err)
}

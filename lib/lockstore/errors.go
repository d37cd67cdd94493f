package lockstore

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess               RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                        // 1: Operation failed due to an internal error.
	RetCUnsupportedOperation                 // 2: Operation is not supported by the backend.
	RetCInvalidOperation                     // 3: Invalid operation.
	RetCResourceAlreadyExists                // 4: A lock resource with the same name was created concurrently.
	RetCConcurrentCreate                     // 5: A lock row for the same pair was created concurrently.
	RetCConcurrencyFailure                   // 6: A lock row was modified concurrently (version mismatch).
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCResourceAlreadyExists:
		return "ResourceAlreadyExists"
	case RetCConcurrentCreate:
		return "ConcurrentCreate"
	case RetCConcurrencyFailure:
		return "ConcurrencyFailure"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type returned by all lock store implementations.
// It carries a RetCode so callers can tell lost races from real failures
// without inspecting the message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
	Err  error   // The underlying driver error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("LockStoreError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("LockStoreError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the underlying driver error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new Error with the given code and message wrapping err.
func WrapError(code RetCode, msg string, err error) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  err,
	}
}

// CodeOf returns the RetCode of the first *Error in err's chain, or
// RetCInternalError if err is not a store error. A nil err yields RetCSuccess.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return RetCInternalError
}

// IsResourceAlreadyExists reports whether err is a lost resource creation race.
func IsResourceAlreadyExists(err error) bool {
	return err != nil && CodeOf(err) == RetCResourceAlreadyExists
}

// IsConcurrentCreate reports whether err is a lost lock creation race.
func IsConcurrentCreate(err error) bool {
	return err != nil && CodeOf(err) == RetCConcurrentCreate
}

// IsConcurrencyFailure reports whether err is a failed optimistic update.
func IsConcurrencyFailure(err error) bool {
	return err != nil && CodeOf(err) == RetCConcurrencyFailure
}

// IsRace reports whether err is any kind of lost race which a caller can
// resolve by retrying the whole operation.
func IsRace(err error) bool {
	switch CodeOf(err) {
	case RetCResourceAlreadyExists, RetCConcurrentCreate, RetCConcurrencyFailure:
		return true
	default:
		return false
	}
}

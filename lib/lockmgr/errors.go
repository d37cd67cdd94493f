package lockmgr

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dLock/lib/lockstore"
)

// ErrorKind classifies a LockAcquisitionError.
type ErrorKind uint8

const (
	// ExclusiveLockExists: a valid lock of another token blocks the request.
	ExclusiveLockExists ErrorKind = iota + 1
	// FailedToAcquireLock: a store operation failed while taking or refreshing the lock.
	FailedToAcquireLock
	// FailedToReleaseLock: a strict release did not find the lock fully held by the token.
	FailedToReleaseLock
	// LockResourceMissing: the name was never locked, there is nothing to refresh or release.
	LockResourceMissing
	// LockUpdateCount: a refresh touched some but not all rows of the lock.
	LockUpdateCount
)

func (k ErrorKind) String() string {
	switch k {
	case ExclusiveLockExists:
		return "EXCLUSIVE_LOCK_EXISTS"
	case FailedToAcquireLock:
		return "FAILED_TO_ACQUIRE_LOCK"
	case FailedToReleaseLock:
		return "FAILED_TO_RELEASE_LOCK"
	case LockResourceMissing:
		return "LOCK_RESOURCE_MISSING"
	case LockUpdateCount:
		return "LOCK_UPDATE_COUNT"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// LockAcquisitionError is returned by the lock manager when a lock could not be
// acquired, refreshed or released.
type LockAcquisitionError struct {
	Kind      ErrorKind
	LockQName QName
	Token     string

	// Conflict is the blocking lock (ExclusiveLockExists only).
	Conflict *lockstore.LockEntity

	// Expected and Actual row counts (refresh and release only).
	Expected int
	Actual   int

	// Err is the store error that caused the failure, if any.
	Err error
}

func (e *LockAcquisitionError) Error() string {
	msg := fmt.Sprintf("%s: lock=%s token=%s", e.Kind, e.LockQName, e.Token)
	switch {
	case e.Conflict != nil:
		msg += fmt.Sprintf(" conflict=[shared=%d exclusive=%d token=%s expires=%s]",
			e.Conflict.SharedResourceID, e.Conflict.ExclusiveResourceID,
			e.Conflict.LockToken, e.Conflict.ExpiryTime.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	case e.Expected != 0 || e.Actual != 0:
		msg += fmt.Sprintf(" expected=%d actual=%d", e.Expected, e.Actual)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LockAcquisitionError) Unwrap() error {
	return e.Err
}

// Is matches another *LockAcquisitionError of the same kind, so
// errors.Is(err, &LockAcquisitionError{Kind: ExclusiveLockExists}) works.
func (e *LockAcquisitionError) Is(target error) bool {
	t, ok := target.(*LockAcquisitionError)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether the failure was a lost race, in which case repeating
// the whole operation may succeed.
func (e *LockAcquisitionError) Retryable() bool {
	return e.Kind == FailedToAcquireLock && e.Err != nil && lockstore.IsRace(e.Err)
}

// KindOf returns the kind of the LockAcquisitionError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var lae *LockAcquisitionError
	if errors.As(err, &lae) {
		return lae.Kind
	}
	return 0
}

// IsExclusiveLockExists reports whether err means another holder has the lock.
func IsExclusiveLockExists(err error) bool {
	return KindOf(err) == ExclusiveLockExists
}

// IsRetryable reports whether err is a LockAcquisitionError caused by a lost race.
func IsRetryable(err error) bool {
	var lae *LockAcquisitionError
	return errors.As(err, &lae) && lae.Retryable()
}

func newConflictError(qname QName, token string, conflict *lockstore.LockEntity) *LockAcquisitionError {
	return &LockAcquisitionError{
		Kind:      ExclusiveLockExists,
		LockQName: qname,
		Token:     token,
		Conflict:  conflict,
	}
}

func newCountError(kind ErrorKind, qname QName, token string, expected, actual int) *LockAcquisitionError {
	return &LockAcquisitionError{
		Kind:      kind,
		LockQName: qname,
		Token:     token,
		Expected:  expected,
		Actual:    actual,
	}
}

func wrapStoreError(kind ErrorKind, qname QName, token string, err error) *LockAcquisitionError {
	return &LockAcquisitionError{
		Kind:      kind,
		LockQName: qname,
		Token:     token,
		Err:       err,
	}
}

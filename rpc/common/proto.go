package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	"time"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request fields
	Key        string `json:"key,omitempty"`        // lock qname ("{uri}local" or "local"), all lock messages
	Token      string `json:"token,omitempty"`      // Acquire, Refresh, Release, ReleaseQuiet
	TTLMillis  uint64 `json:"ttl,omitempty"`        // Acquire, Refresh
	Optimistic bool   `json:"optimistic,omitempty"` // Release

	// Response fields
	Value     []byte    `json:"value,omitempty"`     // Status (encoded lock rows), error responses (encoded conflict)
	Ok        bool      `json:"ok,omitempty"`        // Release, ReleaseQuiet
	Err       string    `json:"err,omitempty"`       // Empty if no error, otherwise contains the error message
	ErrKind   ErrorKind `json:"errKind,omitempty"`   // classification of Err
	Retryable bool      `json:"retryable,omitempty"` // Err was a lost race
}

// --------------------------------------------------------------------------
// Error kinds on the wire
// --------------------------------------------------------------------------

// ErrorKind classifies the error of a response. Values 1 to 5 are the
// lockmgr.ErrorKind values.
type ErrorKind uint8

const (
	ErrKindNone         ErrorKind = 0
	ErrKindInvalidQName ErrorKind = 100
	ErrKindInternal     ErrorKind = 101 // anything else
	ErrKindInvalidToken ErrorKind = 102
	ErrKindInvalidTTL   ErrorKind = 103
)

// invalidArguments maps the argument error kinds to the lockmgr sentinels
var invalidArguments = map[ErrorKind]error{
	ErrKindInvalidQName: lockmgr.ErrInvalidQName,
	ErrKindInvalidToken: lockmgr.ErrInvalidToken,
	ErrKindInvalidTTL:   lockmgr.ErrInvalidTTL,
}

// remoteError is an error message received from the server that still matches
// its sentinel with errors.Is.
type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

// SetError stores err in the message. A *lockmgr.LockAcquisitionError keeps its
// kind, retryability and conflicting lock; its row counts are not carried.
func (m *Message) SetError(err error) {
	if err == nil {
		return
	}
	m.Err = err.Error()

	var lae *lockmgr.LockAcquisitionError
	switch {
	case errors.As(err, &lae):
		// the client rebuilds kind, qname and token, only the cause travels as text
		m.Err = lae.Kind.String()
		if lae.Err != nil {
			m.Err = lae.Err.Error()
		}
		m.ErrKind = ErrorKind(lae.Kind)
		m.Retryable = lae.Retryable()
		if lae.Conflict != nil {
			m.Value = lockstore.EncodeLock(lae.Conflict)
		}
	default:
		m.ErrKind = ErrKindInternal
		for kind, sentinel := range invalidArguments {
			if errors.Is(err, sentinel) {
				m.ErrKind = kind
			}
		}
	}
}

// AsError rebuilds the error of a response, or returns nil if there is none.
// Lock manager failures come back as *lockmgr.LockAcquisitionError, so
// lockmgr.IsExclusiveLockExists and lockmgr.IsRetryable work across the wire.
func (m *Message) AsError() error {
	if m.Err == "" && m.MsgType != MsgTError {
		return nil
	}
	remote := errors.New(m.Err)

	switch {
	case m.ErrKind >= ErrorKind(lockmgr.ExclusiveLockExists) && m.ErrKind <= ErrorKind(lockmgr.LockUpdateCount):
		lae := &lockmgr.LockAcquisitionError{Kind: lockmgr.ErrorKind(m.ErrKind)}
		if m.Err != lae.Kind.String() {
			lae.Err = remote
		}
		if qname, err := lockmgr.ParseQName(m.Key); err == nil {
			lae.LockQName = qname.Normalize()
		}
		lae.Token = m.Token
		if m.Retryable {
			lae.Err = lockstore.WrapError(lockstore.RetCConcurrencyFailure, "remote", remote)
		}
		if len(m.Value) > 0 {
			if conflict, err := lockstore.DecodeLock(m.Value); err == nil {
				lae.Conflict = conflict
			}
		}
		return lae
	case invalidArguments[m.ErrKind] != nil:
		return &remoteError{msg: m.Err, sentinel: invalidArguments[m.ErrKind]}
	default:
		return fmt.Errorf("rpc error: %s", m.Err)
	}
}

// TTL returns the ttl of a request.
func (m *Message) TTL() time.Duration {
	return time.Duration(m.TTLMillis) * time.Millisecond
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// ttlMillis converts a ttl for the wire. Negative values are clamped to 0.
func ttlMillis(ttl time.Duration) uint64 {
	return uint64(max(ttl.Milliseconds(), 0))
}

// NewAcquireRequest creates a new Acquire request
func NewAcquireRequest(qname, token string, ttl time.Duration) *Message {
	return &Message{
		MsgType:   MsgTLCKAcquire,
		Key:       qname,
		Token:     token,
		TTLMillis: ttlMillis(ttl),
	}
}

// NewRefreshRequest creates a new Refresh request
func NewRefreshRequest(qname, token string, ttl time.Duration) *Message {
	return &Message{
		MsgType:   MsgTLCKRefresh,
		Key:       qname,
		Token:     token,
		TTLMillis: ttlMillis(ttl),
	}
}

// NewReleaseRequest creates a new Release request
func NewReleaseRequest(qname, token string, optimistic bool) *Message {
	return &Message{
		MsgType:    MsgTLCKRelease,
		Key:        qname,
		Token:      token,
		Optimistic: optimistic,
	}
}

// NewReleaseQuietRequest creates a new ReleaseQuiet request
func NewReleaseQuietRequest(qname, token string) *Message {
	return &Message{
		MsgType: MsgTLCKReleaseQuiet,
		Key:     qname,
		Token:   token,
	}
}

// NewStatusRequest creates a new Status request
func NewStatusRequest(qname string) *Message {
	return &Message{
		MsgType: MsgTLCKStatus,
		Key:     qname,
	}
}

// NewResponse creates a response of the request's type. Key and Token are echoed
// so the client can rebuild typed errors.
func NewResponse(req *Message, ok bool, value []byte, err error) *Message {
	msg := &Message{
		MsgType: req.MsgType,
		Key:     req.Key,
		Token:   req.Token,
		Ok:      ok,
		Value:   value,
	}
	msg.SetError(err)
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
		ErrKind: ErrKindInternal,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTLCKAcquire:
		return "acquire"
	case MsgTLCKRefresh:
		return "refresh"
	case MsgTLCKRelease:
		return "release"
	case MsgTLCKReleaseQuiet:
		return "releaseQuiet"
	case MsgTLCKStatus:
		return "status"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "acquire":
		*t = MsgTLCKAcquire
	case "refresh":
		*t = MsgTLCKRefresh
	case "release":
		*t = MsgTLCKRelease
	case "releaseQuiet":
		*t = MsgTLCKReleaseQuiet
	case "status":
		*t = MsgTLCKStatus
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// ILockManager operations

	MsgTLCKAcquire      // Acquire or extend a lock
	MsgTLCKRefresh      // Refresh a held lock
	MsgTLCKRelease      // Release a lock
	MsgTLCKReleaseQuiet // Release a lock, report only success
	MsgTLCKStatus       // Read the lock rows of a name
)

package serializer

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	"github.com/ValentinKolb/dLock/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		{MsgType: common.MsgTSuccess},
		*common.NewAcquireRequest("{urn:a}jobs.nightly", "c0ffee", 30*time.Second),
		*common.NewReleaseRequest("jobs", "c0ffee", true),
		{
			MsgType: common.MsgTLCKRelease,
			Key:     "jobs",
			Token:   "c0ffee",
			Ok:      true,
		},
		{
			MsgType:   common.MsgTLCKAcquire,
			Key:       "jobs",
			Token:     "c0ffee",
			Value:     []byte("conflict"),
			Err:       "FAILED_TO_ACQUIRE_LOCK: lost race",
			ErrKind:   common.ErrorKind(lockmgr.FailedToAcquireLock),
			Retryable: true,
		},
		{
			MsgType: common.MsgTError,
			Err:     "shard not found",
			ErrKind: common.ErrKindInternal,
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range testMessages() {
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v", i, msg, result)
				}
			}
		})
	}
}

// TestTypedErrorsSurviveTheWire checks that a conflict keeps its kind and the
// conflicting lock, and a lost race stays retryable, with every serializer.
func TestTypedErrorsSurviveTheWire(t *testing.T) {
	qname := lockmgr.NewQName("urn:a", "jobs.nightly")
	conflict := &lockstore.LockEntity{
		SharedResourceID:    1,
		ExclusiveResourceID: 2,
		Version:             3,
		LockToken:           "other",
		StartTime:           time.UnixMilli(1700000000000),
		ExpiryTime:          time.UnixMilli(1700000060000),
	}

	errs := map[string]error{
		"conflict": &lockmgr.LockAcquisitionError{Kind: lockmgr.ExclusiveLockExists, LockQName: qname, Token: "mine", Conflict: conflict},
		"race": &lockmgr.LockAcquisitionError{Kind: lockmgr.FailedToAcquireLock, LockQName: qname, Token: "mine",
			Err: lockstore.NewError(lockstore.RetCConcurrencyFailure, "version changed")},
		"invalid": lockmgr.ErrInvalidToken,
	}

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			for errName, sent := range errs {
				req := common.NewAcquireRequest(qname.String(), "mine", time.Second)
				data, err := serializer.Serialize(*common.NewResponse(req, false, nil, sent))
				if err != nil {
					t.Fatalf("%s: serialize failed: %v", errName, err)
				}
				var resp common.Message
				if err := serializer.Deserialize(data, &resp); err != nil {
					t.Fatalf("%s: deserialize failed: %v", errName, err)
				}
				got := resp.AsError()

				switch errName {
				case "conflict":
					var lae *lockmgr.LockAcquisitionError
					if !errors.As(got, &lae) || lae.Kind != lockmgr.ExclusiveLockExists {
						t.Fatalf("conflict: got %v", got)
					}
					if lae.Conflict == nil || lae.Conflict.LockToken != "other" || !lae.Conflict.ExpiryTime.Equal(conflict.ExpiryTime) {
						t.Errorf("conflict details lost: %+v", lae.Conflict)
					}
					if lae.LockQName != qname {
						t.Errorf("qname = %v, want %v", lae.LockQName, qname)
					}
				case "race":
					if !lockmgr.IsRetryable(got) {
						t.Errorf("race: expected retryable error, got %v", got)
					}
				case "invalid":
					if !errors.Is(got, lockmgr.ErrInvalidToken) || lockmgr.KindOf(got) != 0 {
						t.Errorf("invalid: expected ErrInvalidToken, got %v", got)
					}
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	t.Run("Empty value slice stays non-nil", func(t *testing.T) {
		data, err := serializer.Serialize(common.Message{MsgType: common.MsgTLCKStatus, Value: []byte{}})
		if err != nil {
			t.Fatalf("Failed to serialize: %v", err)
		}
		var result common.Message
		if err := serializer.Deserialize(data, &result); err != nil {
			t.Fatalf("Failed to deserialize: %v", err)
		}
		if result.Value == nil || len(result.Value) != 0 {
			t.Errorf("Value = %v, want empty non-nil slice", result.Value)
		}
	})

	t.Run("Retryable without kind", func(t *testing.T) {
		data, _ := serializer.Serialize(common.Message{MsgType: common.MsgTLCKAcquire, Retryable: true})
		var result common.Message
		if err := serializer.Deserialize(data, &result); err != nil {
			t.Fatalf("Failed to deserialize: %v", err)
		}
		if !result.Retryable || result.ErrKind != common.ErrKindNone {
			t.Errorf("got Retryable=%v ErrKind=%d", result.Retryable, result.ErrKind)
		}
	})

	t.Run("Error kind out of range", func(t *testing.T) {
		if _, err := serializer.Serialize(common.Message{ErrKind: 200}); err == nil {
			t.Errorf("expected error for error kind 200")
		}
	})

	t.Run("Deserialize resets fields", func(t *testing.T) {
		data, _ := serializer.Serialize(common.Message{MsgType: common.MsgTSuccess})
		result := common.Message{Key: "stale", Ok: true, Value: []byte("x")}
		if err := serializer.Deserialize(data, &result); err != nil {
			t.Fatalf("Failed to deserialize: %v", err)
		}
		if !reflect.DeepEqual(result, common.Message{MsgType: common.MsgTSuccess}) {
			t.Errorf("stale fields survived: %+v", result)
		}
	})
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{"Empty data", []byte{}, true},
		{"Too short header", []byte{1}, true},
		{"Valid header only", []byte{1, 0}, false},
		{"Invalid length for key", []byte{1, 1, 0, 0, 0, 5, 'a', 'b', 'c'}, true},
		{"Missing ttl", []byte{1, 4, 0, 0}, true},
		{"Invalid length for value", []byte{1, 8, 0, 0, 0, 10}, true},
		{"Missing error kind", []byte{1, 32}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

// TestSerializerContract checks the behavior every implementation shares
func TestSerializerContract(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			if !strings.EqualFold(s.Name(), name) {
				t.Errorf("Name() = %q, want %q", s.Name(), strings.ToLower(name))
			}

			var msg common.Message
			if err := s.Deserialize(nil, &msg); !errors.Is(err, errEmptyPayload) {
				t.Errorf("expected errEmptyPayload, got %v", err)
			}

			data, err := s.Serialize(*common.NewStatusRequest("jobs"))
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}
			msg = common.Message{Token: "stale", Ok: true}
			if err := s.Deserialize(data, &msg); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}
			if msg.Token != "" || msg.Ok {
				t.Errorf("stale fields survived: %+v", msg)
			}
			if msg.MsgType != common.MsgTLCKStatus || msg.Key != "jobs" {
				t.Errorf("unexpected message: %+v", msg)
			}
		})
	}
}

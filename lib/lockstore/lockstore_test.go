package lockstore

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code RetCode
		race bool
	}{
		{"nil", nil, RetCSuccess, false},
		{"plain", errors.New("boom"), RetCInternalError, false},
		{"exists", NewError(RetCResourceAlreadyExists, "x"), RetCResourceAlreadyExists, true},
		{"wrapped create", fmt.Errorf("ctx: %w", NewError(RetCConcurrentCreate, "x")), RetCConcurrentCreate, true},
		{"version", WrapError(RetCConcurrencyFailure, "x", errors.New("driver")), RetCConcurrencyFailure, true},
		{"unsupported", NewError(RetCUnsupportedOperation, "x"), RetCUnsupportedOperation, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.code {
				t.Errorf("CodeOf = %s, want %s", got, tt.code)
			}
			if got := IsRace(tt.err); got != tt.race {
				t.Errorf("IsRace = %v, want %v", got, tt.race)
			}
		})
	}

	driver := errors.New("driver")
	if !errors.Is(WrapError(RetCInternalError, "x", driver), driver) {
		t.Errorf("WrapError does not unwrap to the driver error")
	}
}

func TestLockEntityExpiry(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	l := &LockEntity{SharedResourceID: 1, ExclusiveResourceID: 1, ExpiryTime: now}

	if !l.IsExclusive() {
		t.Errorf("shared == exclusive must be exclusive")
	}
	if !l.HasExpired(now) {
		t.Errorf("lock must be expired when now equals the expiry time")
	}
	if l.HasExpired(now.Add(-time.Millisecond)) {
		t.Errorf("lock must be valid before its expiry time")
	}
}

func TestDecodeTruncated(t *testing.T) {
	locks := []*LockEntity{
		{SharedResourceID: 1, ExclusiveResourceID: 2, Version: 3, LockToken: "tx1", StartTime: time.UnixMilli(10), ExpiryTime: time.UnixMilli(20)},
		{SharedResourceID: 2, ExclusiveResourceID: 2, Version: 1, LockToken: "tx1", StartTime: time.UnixMilli(10), ExpiryTime: time.UnixMilli(20)},
	}
	data := EncodeLocks(locks)
	for _, n := range []int{0, 3, 10, len(data) - 1} {
		if _, err := DecodeLocks(data[:n]); err == nil {
			t.Errorf("DecodeLocks of %d/%d bytes succeeded", n, len(data))
		}
	}

	res := EncodeResource(&LockResource{ID: 1, Version: 1, NamespaceID: 1, LocalName: "a.b"})
	if _, err := DecodeResource(res[:len(res)-1]); err == nil {
		t.Errorf("DecodeResource of truncated data succeeded")
	}
}

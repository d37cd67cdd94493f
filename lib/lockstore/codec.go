package lockstore

import (
	"encoding/binary"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Binary encoding of store values
// --------------------------------------------------------------------------

// The encoding is used wherever store values cross a process boundary (raft log
// results, rpc status responses). All integers are big endian, times are unix
// milliseconds and strings are prefixed with a 4 byte length.
//
// LockResource: ID(8) | Version(8) | NamespaceID(8) | NameLen(4) | Name
// LockEntity:   Shared(8) | Exclusive(8) | Version(8) | Start(8) | Expiry(8) | TokenLen(4) | Token
// Lock list:    Count(4) | LockEntity...

const (
	resourceHeaderSize = 8 + 8 + 8 + 4
	lockHeaderSize     = 8 + 8 + 8 + 8 + 8 + 4
)

// TimeToMillis converts t to unix milliseconds. The zero time is mapped to 0.
func TimeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// MillisToTime is the inverse of TimeToMillis.
func MillisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// EncodeResource serializes a LockResource.
func EncodeResource(r *LockResource) []byte {
	buf := make([]byte, resourceHeaderSize+len(r.LocalName))
	binary.BigEndian.PutUint64(buf[0:8], uint64(r.ID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(r.Version))
	binary.BigEndian.PutUint64(buf[16:24], uint64(r.NamespaceID))
	binary.BigEndian.PutUint32(buf[24:28], uint32(len(r.LocalName)))
	copy(buf[28:], r.LocalName)
	return buf
}

// DecodeResource parses a LockResource produced by EncodeResource.
func DecodeResource(data []byte) (*LockResource, error) {
	if len(data) < resourceHeaderSize {
		return nil, fmt.Errorf("data too short for lock resource")
	}
	nameLen := int(binary.BigEndian.Uint32(data[24:28]))
	if len(data) < resourceHeaderSize+nameLen {
		return nil, fmt.Errorf("data too short for local name of length %d", nameLen)
	}
	return &LockResource{
		ID:          ResourceID(binary.BigEndian.Uint64(data[0:8])),
		Version:     int64(binary.BigEndian.Uint64(data[8:16])),
		NamespaceID: int64(binary.BigEndian.Uint64(data[16:24])),
		LocalName:   string(data[28 : 28+nameLen]),
	}, nil
}

func lockSize(l *LockEntity) int {
	return lockHeaderSize + len(l.LockToken)
}

func putLock(buf []byte, l *LockEntity) int {
	binary.BigEndian.PutUint64(buf[0:8], uint64(l.SharedResourceID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(l.ExclusiveResourceID))
	binary.BigEndian.PutUint64(buf[16:24], uint64(l.Version))
	binary.BigEndian.PutUint64(buf[24:32], uint64(TimeToMillis(l.StartTime)))
	binary.BigEndian.PutUint64(buf[32:40], uint64(TimeToMillis(l.ExpiryTime)))
	binary.BigEndian.PutUint32(buf[40:44], uint32(len(l.LockToken)))
	copy(buf[44:], l.LockToken)
	return lockSize(l)
}

func readLock(data []byte) (*LockEntity, int, error) {
	if len(data) < lockHeaderSize {
		return nil, 0, fmt.Errorf("data too short for lock")
	}
	tokenLen := int(binary.BigEndian.Uint32(data[40:44]))
	if len(data) < lockHeaderSize+tokenLen {
		return nil, 0, fmt.Errorf("data too short for lock token of length %d", tokenLen)
	}
	return &LockEntity{
		SharedResourceID:    ResourceID(binary.BigEndian.Uint64(data[0:8])),
		ExclusiveResourceID: ResourceID(binary.BigEndian.Uint64(data[8:16])),
		Version:             int64(binary.BigEndian.Uint64(data[16:24])),
		StartTime:           MillisToTime(int64(binary.BigEndian.Uint64(data[24:32]))),
		ExpiryTime:          MillisToTime(int64(binary.BigEndian.Uint64(data[32:40]))),
		LockToken:           string(data[44 : 44+tokenLen]),
	}, lockHeaderSize + tokenLen, nil
}

// EncodeLock serializes a single LockEntity.
func EncodeLock(l *LockEntity) []byte {
	buf := make([]byte, lockSize(l))
	putLock(buf, l)
	return buf
}

// DecodeLock parses a LockEntity produced by EncodeLock.
func DecodeLock(data []byte) (*LockEntity, error) {
	l, _, err := readLock(data)
	return l, err
}

// EncodeLocks serializes a list of locks.
func EncodeLocks(locks []*LockEntity) []byte {
	size := 4
	for _, l := range locks {
		size += lockSize(l)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(locks)))
	offset := 4
	for _, l := range locks {
		offset += putLock(buf[offset:], l)
	}
	return buf
}

// DecodeLocks parses a list produced by EncodeLocks.
func DecodeLocks(data []byte) ([]*LockEntity, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("data too short for lock list")
	}
	count := int(binary.BigEndian.Uint32(data[0:4]))
	locks := make([]*LockEntity, 0, count)
	offset := 4
	for i := 0; i < count; i++ {
		l, n, err := readLock(data[offset:])
		if err != nil {
			return nil, fmt.Errorf("lock %d: %w", i, err)
		}
		locks = append(locks, l)
		offset += n
	}
	return locks, nil
}

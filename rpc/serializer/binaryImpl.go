package serializer

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dLock/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: MsgType(1) | flags(1) | optional fields in flag order.
// Strings and byte slices are prefixed with a 4 byte big endian length, the ttl
// is 8 bytes, the error kind 1 byte (high bit = retryable). Ok and Optimistic
// live in the flags only.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey       byte = 1 << 0
	hasToken     byte = 1 << 1
	hasTTL       byte = 1 << 2
	hasValue     byte = 1 << 3
	hasErr       byte = 1 << 4
	hasErrKind   byte = 1 << 5
	isOk         byte = 1 << 6
	isOptimistic byte = 1 << 7

	retryableBit byte = 1 << 7
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	if msg.ErrKind&common.ErrorKind(retryableBit) != 0 {
		return nil, fmt.Errorf("error kind %d out of range", msg.ErrKind)
	}

	result := make([]byte, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags byte
	pos := 2

	putString := func(s string) {
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(s)))
		pos += 4
		pos += copy(result[pos:], s)
	}

	if msg.Key != "" {
		flags |= hasKey
		putString(msg.Key)
	}
	if msg.Token != "" {
		flags |= hasToken
		putString(msg.Token)
	}
	if msg.TTLMillis > 0 {
		flags |= hasTTL
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.TTLMillis)
		pos += 8
	}
	if msg.Value != nil {
		flags |= hasValue
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.Value)))
		pos += 4
		pos += copy(result[pos:], msg.Value)
	}
	if msg.Err != "" {
		flags |= hasErr
		putString(msg.Err)
	}
	if msg.ErrKind != common.ErrKindNone || msg.Retryable {
		flags |= hasErrKind
		kind := byte(msg.ErrKind)
		if msg.Retryable {
			kind |= retryableBit
		}
		result[pos] = kind
		pos++
	}
	if msg.Ok {
		flags |= isOk
	}
	if msg.Optimistic {
		flags |= isOptimistic
	}

	result[1] = flags
	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) == 0 {
		return errEmptyPayload
	}
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := data[1]
	pos := 2

	readBytes := func(field string) ([]byte, error) {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("data too short for %s length", field)
		}
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+n > len(data) {
			return nil, fmt.Errorf("data too short for %s data", field)
		}
		b := data[pos : pos+n]
		pos += n
		return b, nil
	}

	if flags&hasKey != 0 {
		v, err := readBytes("key")
		if err != nil {
			return err
		}
		msg.Key = string(v)
	}
	if flags&hasToken != 0 {
		v, err := readBytes("token")
		if err != nil {
			return err
		}
		msg.Token = string(v)
	}
	if flags&hasTTL != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for ttl")
		}
		msg.TTLMillis = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	}
	if flags&hasValue != 0 {
		v, err := readBytes("value")
		if err != nil {
			return err
		}
		// copy, the transport may reuse data
		msg.Value = make([]byte, len(v))
		copy(msg.Value, v)
	}
	if flags&hasErr != 0 {
		v, err := readBytes("error")
		if err != nil {
			return err
		}
		msg.Err = string(v)
	}
	if flags&hasErrKind != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for error kind")
		}
		msg.ErrKind = common.ErrorKind(data[pos] &^ retryableBit)
		msg.Retryable = data[pos]&retryableBit != 0
		pos++
	}
	msg.Ok = flags&isOk != 0
	msg.Optimistic = flags&isOptimistic != 0

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := 2 // MsgType + flags

	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.Token != "" {
		size += 4 + len(msg.Token)
	}
	if msg.TTLMillis > 0 {
		size += 8
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.ErrKind != common.ErrKindNone || msg.Retryable {
		size++
	}
	return size
}

func (b binarySerializerImpl) Name() string { return "binary" }

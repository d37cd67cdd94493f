package serializer

import (
	"errors"
	"github.com/ValentinKolb/dLock/rpc/common"
)

// IRPCSerializer turns lock service messages into bytes and back. Client and
// server of one deployment must use the same implementation.
type IRPCSerializer interface {
	// Serialize encodes msg.
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg. Fields of msg not present in b are reset.
	Deserialize(b []byte, msg *common.Message) error
	// Name returns the name the serializer is selected by on the command line.
	Name() string
}

// errEmptyPayload is returned when there is nothing to decode. Every encoding
// of a message carries at least its type.
var errEmptyPayload = errors.New("serializer: empty payload")

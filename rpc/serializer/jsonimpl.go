package serializer

import (
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dLock/rpc/common"
)

// NewJSONSerializer creates a serializer writing messages as JSON objects.
// Message types are written by name, so payloads are readable in logs and
// with curl against the http transport.
func NewJSONSerializer() IRPCSerializer {
	return jsonSerializerImpl{}
}

type jsonSerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("json: encode %s message: %w", msg.MsgType, err)
	}
	return b, nil
}

func (jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	if len(b) == 0 {
		return errEmptyPayload
	}
	*msg = common.Message{}
	if err := json.Unmarshal(b, msg); err != nil {
		return fmt.Errorf("json: decode message: %w", err)
	}
	return nil
}

func (jsonSerializerImpl) Name() string { return "json" }

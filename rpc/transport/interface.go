package transport

import (
	"github.com/ValentinKolb/dLock/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc answers one serialized request addressed to a shard. It
// never fails: errors are encoded into the returned response.
type ServerHandleFunc func(shardId uint64, req []byte) (resp []byte)

// IRPCServerTransport accepts requests and passes them to the registered handler.
type IRPCServerTransport interface {
	// RegisterHandler sets the handler. It must be called before Listen.
	RegisterHandler(handler ServerHandleFunc)
	// Listen serves requests on config.Transport.Endpoint until Close is
	// called, then returns nil.
	Listen(config common.ServerConfig) error
	// Close stops accepting requests and unblocks Listen
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport delivers requests to one of the configured servers.
// Send is safe for concurrent use.
type IRPCClientTransport interface {
	// Connect opens the connections to config.Transport.Endpoints
	Connect(config common.ClientConfig) error
	// Send delivers req to shard shardId and waits for the response
	Send(shardId uint64, req []byte) (resp []byte, err error)
	Close() error
}

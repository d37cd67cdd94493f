package internal

import (
	"encoding/binary"
	"fmt"
)

// CommandType defines the possible writes of the lock state machine.
type CommandType uint8

const (
	CommandTResolveNamespace CommandType = iota // Look up a namespace and create it if missing.
	CommandTCreateResource                      // Insert a lock resource.
	CommandTCreateLock                          // Insert a lock row.
	CommandTUpdateLock                          // Rewrite a lock row if its version matches.
	CommandTUpdateLocks                         // Rewrite every row of an exclusive resource holding a token.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTResolveNamespace:
		return "ResolveNamespace"
	case CommandTCreateResource:
		return "CreateResource"
	case CommandTCreateLock:
		return "CreateLock"
	case CommandTUpdateLock:
		return "UpdateLock"
	case CommandTUpdateLocks:
		return "UpdateLocks"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// Command is a single entry in the raft log.
//
// Start and Expiry are absolute unix milliseconds chosen by the proposer, so
// every replica applies exactly the same row.
type Command struct {
	Type        CommandType
	NamespaceID int64
	Shared      int64
	Exclusive   int64
	Version     int64 // expected version for CommandTUpdateLock
	Start       int64
	Expiry      int64
	Name        string // namespace uri or local name
	Token       string // new token, or the row token for CommandTCreateLock
	OldToken    string // token to match for CommandTUpdateLocks
}

const commandHeaderSize = 1 + 6*8

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return commandHeaderSize + 3*4 + len(command.Name) + len(command.Token) + len(command.OldToken)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for the type,
// 8 bytes each for namespace, shared, exclusive, version, start and expiry,
// then name, token and old token, each prefixed by a 4 byte length.
// All integers are big endian.
func (command *Command) Serialize() []byte {
	buf := make([]byte, command.SizeBytes())

	buf[0] = byte(command.Type)
	binary.BigEndian.PutUint64(buf[1:9], uint64(command.NamespaceID))
	binary.BigEndian.PutUint64(buf[9:17], uint64(command.Shared))
	binary.BigEndian.PutUint64(buf[17:25], uint64(command.Exclusive))
	binary.BigEndian.PutUint64(buf[25:33], uint64(command.Version))
	binary.BigEndian.PutUint64(buf[33:41], uint64(command.Start))
	binary.BigEndian.PutUint64(buf[41:49], uint64(command.Expiry))

	offset := commandHeaderSize
	for _, s := range []string{command.Name, command.Token, command.OldToken} {
		binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(s)))
		offset += 4
		offset += copy(buf[offset:], s)
	}
	return buf
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < commandHeaderSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.NamespaceID = int64(binary.BigEndian.Uint64(data[1:9]))
	command.Shared = int64(binary.BigEndian.Uint64(data[9:17]))
	command.Exclusive = int64(binary.BigEndian.Uint64(data[17:25]))
	command.Version = int64(binary.BigEndian.Uint64(data[25:33]))
	command.Start = int64(binary.BigEndian.Uint64(data[33:41]))
	command.Expiry = int64(binary.BigEndian.Uint64(data[41:49]))

	offset := commandHeaderSize
	strs := [3]string{}
	for i := range strs {
		if len(data) < offset+4 {
			return fmt.Errorf("data too short for string length at offset %d", offset)
		}
		n := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		offset += 4
		if len(data) < offset+n {
			return fmt.Errorf("data too short for string of length %d", n)
		}
		strs[i] = string(data[offset : offset+n])
		offset += n
	}
	command.Name, command.Token, command.OldToken = strs[0], strs[1], strs[2]
	return nil
}

package base

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// frameHeaderSize is shardID(8) | requestID(8) | payload length(4), big endian.
const frameHeaderSize = 20

// maxFrameSize bounds a single payload. The largest lock messages are status
// replies listing every row of a deep name, far below this.
const maxFrameSize = 16 << 20

var errFrameTooLarge = errors.New("frame too large")

type frameHeader struct {
	shardID   uint64
	requestID uint64
	length    uint32
}

func (h frameHeader) put(b []byte) {
	binary.BigEndian.PutUint64(b[0:8], h.shardID)
	binary.BigEndian.PutUint64(b[8:16], h.requestID)
	binary.BigEndian.PutUint32(b[16:20], h.length)
}

func parseFrameHeader(b []byte) frameHeader {
	return frameHeader{
		shardID:   binary.BigEndian.Uint64(b[0:8]),
		requestID: binary.BigEndian.Uint64(b[8:16]),
		length:    binary.BigEndian.Uint32(b[16:20]),
	}
}

// writeFrame sends header and payload with a single vectored write.
func writeFrame(conn net.Conn, shardID uint64, requestID uint64, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", errFrameTooLarge, len(data))
	}
	var header [frameHeaderSize]byte
	frameHeader{shardID: shardID, requestID: requestID, length: uint32(len(data))}.put(header[:])

	if len(data) == 0 {
		// a zero length write blocks on synchronous conns such as net.Pipe
		_, err := conn.Write(header[:])
		return err
	}
	b := net.Buffers{header[:], data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads the next frame. The payload is read into buf when it fits,
// so it is only valid until buf is reused.
func readFrame(conn net.Conn, buf []byte) (uint64, uint64, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return 0, 0, nil, err
	}
	h := parseFrameHeader(header[:])

	if h.length > maxFrameSize {
		return 0, 0, nil, fmt.Errorf("%w: %d bytes from %s", errFrameTooLarge, h.length, conn.RemoteAddr())
	}
	if h.length == 0 {
		return h.shardID, h.requestID, []byte{}, nil
	}

	if cap(buf) < int(h.length) {
		buf = make([]byte, h.length)
	}
	data := buf[:h.length]
	if _, err := io.ReadFull(conn, data); err != nil {
		return 0, 0, nil, err
	}
	return h.shardID, h.requestID, data, nil
}

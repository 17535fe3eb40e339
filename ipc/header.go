// Package ipc implements the kdb+ IPC wire format: message header, value serialisation,
// compression and string charsets.
package ipc

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the length of every IPC message header.
const HeaderSize = 8

// MessageType identifies the purpose of a message.
type MessageType byte

const (
	Async    MessageType = 0
	Sync     MessageType = 1
	Response MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case Async:
		return "async"
	case Sync:
		return "sync"
	case Response:
		return "response"
	default:
		return fmt.Sprintf("MessageType(%d)", byte(t))
	}
}

// Header is the 8-byte prefix of an IPC message.
//
//	[0]   1 for little-endian payload, 0 for big-endian
//	[1]   message type
//	[2]   1 when compressed
//	[3]   reserved
//	[4:8] total message size including the header
type Header struct {
	LittleEndian bool
	Type         MessageType
	Compressed   bool
	Size         uint32
}

// ByteOrder returns the byte order of the payload described by h.
func (h Header) ByteOrder() binary.ByteOrder {
	if h.LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// ParseHeader reads a header from the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("header: %w", ErrShortBuffer)
	}
	h := Header{
		LittleEndian: b[0] == 1,
		Type:         MessageType(b[1]),
		Compressed:   b[2] == 1,
	}
	if h.Type > Response {
		return Header{}, fmt.Errorf("unexpected message type %d", b[1])
	}
	h.Size = h.ByteOrder().Uint32(b[4:8])
	if h.Size < HeaderSize {
		return Header{}, fmt.Errorf("message size %d smaller than header", h.Size)
	}
	return h, nil
}

// Put writes h into the first HeaderSize bytes of b.
func (h Header) Put(b []byte) {
	_ = b[HeaderSize-1]
	b[0] = boolByte(h.LittleEndian)
	b[1] = byte(h.Type)
	b[2] = boolByte(h.Compressed)
	b[3] = 0
	h.ByteOrder().PutUint32(b[4:8], h.Size)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

package ipc

import (
	"fmt"

	"golang.org/x/text/encoding"
)

// Version is the highest IPC capability this codec speaks (kdb+ 3.0+).
const Version = 3

// compressThreshold is the message size above which compression is attempted.
const compressThreshold = 2000

// Codec serialises Go values to kdb+ IPC and back. A Codec is not safe for concurrent
// use while SetVersion is being called.
type Codec struct {
	cs       charset
	version  int
	compress bool
	maxSize  int
}

// Option configures a Codec.
type Option func(*Codec)

// WithCharset sets the encoding for symbols and char vectors.
func WithCharset(enc encoding.Encoding) Option {
	return func(c *Codec) {
		if enc != nil {
			c.cs = charset{enc: enc}
		}
	}
}

// WithVersion sets the negotiated IPC capability.
func WithVersion(v int) Option {
	return func(c *Codec) { c.version = v }
}

// WithCompression enables compression of large outgoing messages.
func WithCompression(enabled bool) Option {
	return func(c *Codec) { c.compress = enabled }
}

// WithMaxMessageSize limits the uncompressed size of decoded messages. Zero means no limit.
func WithMaxMessageSize(n int) Option {
	return func(c *Codec) { c.maxSize = n }
}

// NewCodec creates a codec with ISO-8859-1 strings, capability 3 and no compression by default.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{cs: charset{enc: DefaultCharset}, version: Version}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Version returns the IPC capability the codec encodes for.
func (c *Codec) Version() int {
	return c.version
}

// SetVersion updates the capability after a handshake.
func (c *Codec) SetVersion(v int) {
	c.version = v
}

// Credentials encodes the connection handshake: "user:password" cut at any NUL,
// the requested capability byte and a terminating NUL.
func (c *Codec) Credentials(user, password string) []byte {
	return append(c.cs.symbol(user+":"+password), Version, 0)
}

// EncodeMessage serialises v into a complete big-endian message of type t,
// compressing it when enabled and worthwhile.
func (c *Codec) EncodeMessage(t MessageType, v any) ([]byte, error) {
	msg := make([]byte, HeaderSize, 64)
	msg, err := c.AppendValue(msg, v)
	if err != nil {
		return nil, err
	}
	Header{Type: t, Size: uint32(len(msg))}.Put(msg)
	if c.compress && len(msg) > compressThreshold {
		if z, ok := Compress(msg); ok {
			return z, nil
		}
	}
	return msg, nil
}

// DecodeMessage parses a complete message, decompressing it when flagged. Messages
// whose size, or uncompressed size, exceeds the codec's limit fail with ErrMessageTooLarge
// before decompression.
func (c *Codec) DecodeMessage(msg []byte) (Header, any, error) {
	h, err := ParseHeader(msg)
	if err != nil {
		return Header{}, nil, err
	}
	if int(h.Size) != len(msg) {
		return h, nil, fmt.Errorf("message size %d does not match header size %d", len(msg), h.Size)
	}
	if err := c.checkSize(h.Size); err != nil {
		return h, nil, err
	}
	if h.Compressed {
		if len(msg) < 12 {
			return h, nil, fmt.Errorf("%d byte message: %w", len(msg), ErrCorrupt)
		}
		if err := c.checkSize(h.ByteOrder().Uint32(msg[8:12])); err != nil {
			return h, nil, err
		}
		if msg, err = Decompress(h.ByteOrder(), msg); err != nil {
			return h, nil, err
		}
	}
	v, _, err := c.DecodeValue(h.ByteOrder(), msg[HeaderSize:])
	return h, v, err
}

func (c *Codec) checkSize(n uint32) error {
	if c.maxSize > 0 && uint64(n) > uint64(c.maxSize) {
		return fmt.Errorf("%d bytes exceeds %d: %w", n, c.maxSize, ErrMessageTooLarge)
	}
	return nil
}

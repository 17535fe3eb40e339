package ipc

import (
	"errors"

	"github.com/st-keller/kdb-client/types"
)

var (
	// ErrShortBuffer reports a message that ends before the value it describes.
	ErrShortBuffer = errors.New("ipc: short buffer")
	// ErrUnsupportedType reports a Go value or type code outside the codec's model.
	ErrUnsupportedType = errors.New("ipc: unsupported type")
	// ErrVersion reports a value the negotiated IPC capability cannot carry.
	ErrVersion = errors.New("ipc: not supported by protocol version")
	// ErrCorrupt reports a compressed message that does not decompress.
	ErrCorrupt = errors.New("ipc: corrupt compressed message")
	// ErrOutOfRange reports a Go value outside the range of its q type.
	ErrOutOfRange = types.ErrOutOfRange
	// ErrLength reports a dictionary whose keys and values differ in count.
	ErrLength = types.ErrLength
	// ErrTooDeep reports a value nested more than MaxDepth levels.
	ErrTooDeep = errors.New("ipc: value nested too deeply")
	// ErrMessageTooLarge reports a message above the codec's size limit.
	ErrMessageTooLarge = errors.New("ipc: message too large")
)

// MaxDepth is the deepest nesting of lists, dictionaries and functions the codec
// encodes or decodes.
const MaxDepth = 1000

// RemoteError is an error raised by the remote q process ('signal).
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "kdb: '" + e.Message
}

// QType reports the error type code.
func (e *RemoteError) QType() types.Type {
	return types.TError
}

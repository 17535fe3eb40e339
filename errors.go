package kdb

import (
	"errors"

	"github.com/st-keller/kdb-client/ipc"
)

var (
	// ErrAccessDenied is returned when the server closes the connection during the handshake.
	ErrAccessDenied = errors.New("kdb: access denied")
	// ErrClosed is returned by calls on a closed client or a lost connection without Reconnect.
	ErrClosed = errors.New("kdb: client closed")
	// ErrMessageTooLarge is returned for messages above Config.MaxMessageSize.
	ErrMessageTooLarge = ipc.ErrMessageTooLarge
)

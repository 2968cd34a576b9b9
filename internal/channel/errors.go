package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelRejected means the server refused the credential during the
	// handshake or closed the channel for a policy violation.
	ErrChannelRejected = errors.New("channel rejected")
	// ErrNotConnected is returned by Send outside the connected state.
	ErrNotConnected = errors.New("channel not connected")
	// ErrClosed is returned by Open when Close ran before the handshake
	// finished.
	ErrClosed = errors.New("channel closed")
)

// TransientError wraps a dial, read or write failure that is not an
// authorization problem.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

package imageserver

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation requires a successful
	// Connect first.
	ErrNotConnected = errors.New("imageserver: session not connected")

	// ErrConnectionClosed is returned when the recording server closes the
	// TCP connection mid-exchange. It is always fatal for the session; the
	// caller decides whether to build a new session. A header block that
	// never terminates falls into this class as well.
	ErrConnectionClosed = errors.New("imageserver: connection closed by server")
)

// HandshakeError reports a connect request that the server answered but
// rejected. Reason carries the server-provided error reason, or
// "unknown error" when the response did not include one.
type HandshakeError struct {
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("imageserver: connect rejected: %s", e.Reason)
}

// IsConnectionClosed reports whether err is a fatal connection loss.
func IsConnectionClosed(err error) bool {
	return errors.Is(err, ErrConnectionClosed)
}

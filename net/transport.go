// Original code derived from https://github.com/ortuman/jackal

package net

import "errors"

var ErrTransportClosed = errors.New("transport closed")

// Transport represents a message-oriented stream transport mechanism.
type Transport interface {
	// ReadMessage blocks until a full message is available.
	ReadMessage() ([]byte, error)

	// WriteMessage writes a single message to the transport.
	WriteMessage(msg []byte) error

	// Ping sends a keepalive probe.
	Ping() error

	Close() error

	// Closed returns if the transport is closed or not
	Closed() bool

	// RemoteAddr describes the peer, for logging.
	RemoteAddr() string
}

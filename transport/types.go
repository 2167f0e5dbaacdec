package transport

import (
	"fmt"
	"net"
)

// Datagram is one raw datagram read from the socket.
type Datagram struct {
	Data []byte
	Addr net.Addr
}

// Transport defines the interface for the datagram transport used by the
// receiver. Implementations must allow Send to be called concurrently with
// ReceiveBatch.
type Transport interface {
	// Send serializes and sends a message to the specified address.
	// Sends are fire-and-forget.
	Send(msg Message, addr net.Addr) error

	// ReceiveBatch returns every datagram received since the previous call
	// without blocking. An empty batch is not an error.
	ReceiveBatch() ([]Datagram, error)

	// LocalAddr returns the local address the transport is listening on.
	LocalAddr() net.Addr

	// Close shuts down the transport.
	Close() error
}

// TransportError is a socket-level failure. Addr is the remote endpoint the
// failure is attributed to, or nil when the socket itself failed.
type TransportError struct {
	Addr net.Addr
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr == nil {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

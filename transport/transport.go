// Package transport defines the socket-level collaborator interfaces the
// connector depends on, and ships adapters for the transports btlink runs
// over. Implementations must guarantee that closing a Listener or Conn from
// another goroutine unblocks a pending Accept or Read with an error rather
// than hanging; the connector relies on this for cancellation.
package transport

import "io"

// SPPServiceTag is the Serial Port Profile service identifier. Both ends of
// the link must register under the same tag for acceptance to succeed.
const SPPServiceTag = "00001101-0000-1000-8000-00805F9B34FB"

// Transport creates listening sockets registered under a service tag.
type Transport interface {
	Listen(serviceTag string) (Listener, error)
}

// Listener is a server-side listening socket.
type Listener interface {
	// Accept blocks until one inbound connection arrives or the listener
	// is closed.
	Accept() (Conn, error)
	// Close releases the listening socket and unblocks a pending Accept.
	// Closing the listener never affects an already-accepted Conn.
	Close() error
}

// Conn is one raw byte-stream connection to a remote device.
type Conn interface {
	// OpenStream opens the connection's input byte stream.
	OpenStream() (Stream, error)
	// RemoteName returns the remote device's display name, or "" if it
	// cannot be resolved.
	RemoteName() string
	// Close releases the connection and unblocks a pending Read on its
	// stream.
	Close() error
}

// Stream is a blocking input byte stream.
type Stream interface {
	io.Reader
}

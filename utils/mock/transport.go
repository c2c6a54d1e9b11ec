// Package mock provides an in-memory pipe-backed transport for tests and
// the CLI's loopback mode.
package mock

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"btlink/transport"
)

// Transport is an in-process transport.Transport. Each Listen creates a
// fresh Listener; Dial connects to the most recently created one over a
// net.Pipe and returns the dialer's end.
type Transport struct {
	// ListenErr, when set, makes Listen fail. Used to force the
	// socket-creation failure path.
	ListenErr error
	// RemoteName is the display name accepted connections report.
	RemoteName string

	mu sync.Mutex
	ls *Listener
}

// NewTransport returns a mock transport whose connections report the given
// remote display name.
func NewTransport(remoteName string) *Transport {
	return &Transport{RemoteName: remoteName}
}

// Listen creates a new in-memory listener.
func (t *Transport) Listen(serviceTag string) (transport.Listener, error) {
	if t.ListenErr != nil {
		return nil, t.ListenErr
	}
	l := &Listener{
		ch:      make(chan net.Conn),
		closeCh: make(chan struct{}),
		name:    t.RemoteName,
	}
	t.mu.Lock()
	t.ls = l
	t.mu.Unlock()
	return l, nil
}

// Dial connects to the transport's current listener and returns the
// dialer's end of the pipe.
func (t *Transport) Dial() (net.Conn, error) {
	return t.DialContext(context.Background())
}

// DialContext is Dial with cancellation.
func (t *Transport) DialContext(ctx context.Context) (net.Conn, error) {
	t.mu.Lock()
	l := t.ls
	t.mu.Unlock()
	if l == nil {
		return nil, io.EOF
	}
	return l.dial(ctx)
}

// Listener is a mock listener.
// adapted from a pipe rendezvous found somewhere in the internet.
// thanks to the author.
type Listener struct {
	ch      chan net.Conn
	closeCh chan struct{}
	closed  uint32
	name    string
	sync.Mutex
}

// Accept returns the next dialed connection.
func (l *Listener) Accept() (transport.Conn, error) {
	select {
	case c := <-l.ch:
		return &Conn{conn: c, name: l.name}, nil
	case <-l.closeCh:
		return nil, io.EOF
	}
}

// Close closes the listener and unblocks a pending Accept.
func (l *Listener) Close() error {
	l.Lock()
	defer l.Unlock()
	if l.closed == 1 {
		return io.EOF
	}
	l.closed = 1
	close(l.closeCh)
	return nil
}

func (l *Listener) dial(ctx context.Context) (conn net.Conn, e error) {
	if atomic.LoadUint32(&l.closed) == 1 {
		return nil, io.EOF
	}
	c0, c1 := net.Pipe()
	// waiting accepted or closed or done
	select {
	case <-ctx.Done():
		e = ctx.Err()
	case l.ch <- c0:
		conn = c1
	case <-l.closeCh:
		c0.Close()
		c1.Close()
		e = io.EOF
	}
	return
}

// Conn is the accepted end of a mock connection.
type Conn struct {
	conn net.Conn
	name string
}

// OpenStream returns the connection's input stream.
func (c *Conn) OpenStream() (transport.Stream, error) {
	return c.conn, nil
}

// RemoteName returns the display name configured on the transport.
func (c *Conn) RemoteName() string {
	return c.name
}

// Close closes the pipe and unblocks a pending Read.
func (c *Conn) Close() error {
	return c.conn.Close()
}

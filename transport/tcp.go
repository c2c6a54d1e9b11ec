package transport

import (
	"net"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// NetTransport adapts a net.Listener-based network (tcp in practice) to the
// Transport interface. It exists for development and tests: the service tag
// has no wire representation on plain sockets, so Listen records it and
// binds the configured address instead.
type NetTransport struct {
	// Network is passed to net.Listen, e.g. "tcp".
	Network string
	// Addr is the bind address, e.g. "127.0.0.1:9131".
	Addr string
}

// Listen binds the configured address.
func (t NetTransport) Listen(serviceTag string) (Listener, error) {
	ls, err := net.Listen(t.Network, t.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s %s", t.Network, t.Addr)
	}
	log.Debugf("listening on %s (service %s)", ls.Addr(), serviceTag)
	return &netListener{ls: ls}, nil
}

type netListener struct {
	ls net.Listener
}

func (l *netListener) Accept() (Conn, error) {
	c, err := l.ls.Accept()
	if err != nil {
		return nil, errors.Wrap(err, "accept")
	}
	return &netConn{conn: c}, nil
}

func (l *netListener) Close() error {
	return l.ls.Close()
}

// Addr returns the bound address. Useful with ":0" bind addresses.
func (l *netListener) Addr() net.Addr {
	return l.ls.Addr()
}

type netConn struct {
	conn net.Conn
}

func (c *netConn) OpenStream() (Stream, error) {
	return c.conn, nil
}

func (c *netConn) RemoteName() string {
	return c.conn.RemoteAddr().String()
}

func (c *netConn) Close() error {
	return c.conn.Close()
}

package connector

import (
	"sync/atomic"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"btlink/transport"
)

// acceptWorker waits for one inbound connection on a listening socket
// registered under the SPP service tag. It runs on its own goroutine and
// owns the listening socket for its lifetime; the accepted connection is
// handed over to the connector.
type acceptWorker struct {
	id     string
	c      *Connector
	remote string

	ls        transport.Listener
	listenErr error

	cancelled atomic.Bool
}

// newAcceptWorker opens the listening socket immediately. A failed open is
// recorded and reported on run, so the worker always starts.
func newAcceptWorker(c *Connector, remote string) *acceptWorker {
	w := &acceptWorker{
		id:     uuid.New().String(),
		c:      c,
		remote: remote,
	}
	ls, err := c.tr.Listen(transport.SPPServiceTag)
	if err != nil {
		log.Errorf("accept worker %s: open listening socket: %v", w.id, err)
		w.listenErr = err
		return w
	}
	w.ls = ls
	return w
}

func (w *acceptWorker) run() {
	log.Debugf("accept worker %s waiting for %s", w.id, w.remote)

	if w.listenErr != nil {
		w.c.acceptFailed(w, w.listenErr)
		return
	}

	conn, err := w.ls.Accept()
	// The listening socket is done either way; closing it does not affect
	// an already-accepted connection.
	_ = w.ls.Close()

	if err != nil {
		w.c.acceptFailed(w, err)
		return
	}
	w.c.connected(w, conn)
}

// cancel unblocks a pending accept by force-closing the listening socket.
// It returns as soon as the close is issued; the worker goroutine detects
// the resulting error and exits without reporting.
func (w *acceptWorker) cancel() {
	w.cancelled.Store(true)
	if w.ls != nil {
		_ = w.ls.Close()
	}
}

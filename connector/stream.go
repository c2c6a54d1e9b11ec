package connector

import (
	"sync/atomic"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"btlink/transport"
)

// readChunkSize is the size of one blocking read from the connection's
// input stream.
const readChunkSize = 1024

// streamWorker owns a live connection and its input byte stream. It runs on
// its own goroutine, pulling bytes until the stream fails or the worker is
// cancelled; there is no success terminal, a live connection only ends by
// loss or teardown.
type streamWorker struct {
	id   string
	c    *Connector
	conn transport.Conn

	stream    transport.Stream
	streamErr error

	cancelled atomic.Bool
}

// newStreamWorker takes ownership of an already-connected socket and opens
// its input stream. A failed open is recorded and reported on run.
func newStreamWorker(c *Connector, conn transport.Conn) *streamWorker {
	w := &streamWorker{
		id:   uuid.New().String(),
		c:    c,
		conn: conn,
	}
	st, err := conn.OpenStream()
	if err != nil {
		log.Errorf("stream worker %s: open stream: %v", w.id, err)
		w.streamErr = err
		return w
	}
	w.stream = st
	return w
}

func (w *streamWorker) run() {
	log.Debugf("stream worker %s reading", w.id)

	if w.streamErr != nil {
		w.c.streamLost(w, w.streamErr)
		return
	}

	// The buffer is reused across reads and private to this worker; each
	// event carries a copy.
	buf := make([]byte, readChunkSize)
	for {
		n, err := w.stream.Read(buf)
		if n > 0 || err == nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			w.c.streamData(w, data)
		}
		if err != nil {
			w.c.streamLost(w, err)
			return
		}
	}
}

// cancel unblocks a pending read by force-closing the connection. It
// returns as soon as the close is issued; the read loop exits on the
// resulting error without reporting a loss.
func (w *streamWorker) cancel() {
	w.cancelled.Store(true)
	_ = w.conn.Close()
}

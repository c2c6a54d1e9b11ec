// Package connector implements the connection-state machine of a btlink
// Link: one manager that owns the current state, at most one accept worker
// and at most one stream worker, and serializes every transition under a
// single lock.
package connector

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"btlink"
	"btlink/transport"
)

// Connector manages a single logical point-to-point connection over a
// Transport. It is the only object the host interacts with; workers report
// back into it and it emits events to the sink. All methods are safe for
// concurrent use.
type Connector struct {
	tr   transport.Transport
	sink btlink.EventSink

	mu     sync.Mutex
	accept *acceptWorker
	stream *streamWorker

	// state mirrors the value mutated under mu so State never blocks on a
	// transition in progress.
	state atomic.Int32
}

var _ btlink.Link = (*Connector)(nil)

// New creates a Connector in StateIdle. The sink is shared, not owned; it
// must outlive the connector.
func New(tr transport.Transport, sink btlink.EventSink) *Connector {
	return &Connector{tr: tr, sink: sink}
}

// Connect requests a connection to the named remote endpoint. Any in-flight
// attempt and any live connection are cancelled first, then a new accept
// worker is started and the state moves to StateConnecting. The outcome is
// reported asynchronously via the sink.
func (c *Connector) Connect(remote string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	log.Debugf("connect to %s", remote)

	c.cancelAcceptLocked()
	c.cancelStreamLocked()

	w := newAcceptWorker(c, remote)
	c.accept = w
	go w.run()
	c.setStateLocked(btlink.StateConnecting)
}

// Stop cancels both workers unconditionally and returns the link to
// StateIdle. Calling Stop while already idle is a no-op on the workers but
// still emits the state event.
func (c *Connector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	log.Debugf("stop")

	c.cancelAcceptLocked()
	c.cancelStreamLocked()
	c.setStateLocked(btlink.StateIdle)
}

// State returns the current state without blocking.
func (c *Connector) State() btlink.State {
	return btlink.State(c.state.Load())
}

// connected is invoked on the accept worker's goroutine when its accept
// succeeded. A worker that has been superseded must not install itself; its
// connection is closed and the callback is dropped.
func (c *Connector) connected(w *acceptWorker, conn transport.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accept != w {
		log.Infof("accept worker %s superseded, dropping its connection", w.id)
		_ = conn.Close()
		return
	}
	c.accept = nil
	c.cancelStreamLocked()

	sw := newStreamWorker(c, conn)
	c.stream = sw

	name := conn.RemoteName()
	if name == "" {
		name = w.remote
	}
	log.Infof("connected to %s", name)
	// DeviceIdentified and the Connected state event must both be emitted
	// before the stream worker can produce its first DataReceived.
	c.sink.Emit(btlink.DeviceIdentified{Name: name})
	c.setStateLocked(btlink.StateConnected)
	go sw.run()
}

// acceptFailed is invoked on the accept worker's goroutine when its accept
// failed. ConnectionFailed goes straight to the sink without a state
// transition; the host resolves the state via Stop or Connect. Cancelled
// and superseded workers report nothing.
func (c *Connector) acceptFailed(w *acceptWorker, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w.cancelled.Load() {
		log.Debugf("accept worker %s cancelled", w.id)
		return
	}
	log.Infof("accept worker %s failed: %v", w.id, err)
	c.sink.Emit(btlink.ConnectionFailed{})
}

// streamData is invoked on the stream worker's goroutine for every
// successful read. Reads that raced with supersession are dropped.
func (c *Connector) streamData(w *streamWorker, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != w || w.cancelled.Load() {
		return
	}
	c.sink.Emit(btlink.DataReceived{Data: data, N: len(data)})
}

// streamLost is invoked on the stream worker's goroutine when its read loop
// ended. Voluntary teardown (cancel via Stop or a newer Connect) is silent;
// only a genuine loss emits ConnectionLost.
func (c *Connector) streamLost(w *streamWorker, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w.cancelled.Load() || c.stream != w {
		log.Debugf("stream worker %s cancelled", w.id)
		return
	}
	log.Infof("stream worker %s lost connection: %v", w.id, err)
	c.sink.Emit(btlink.ConnectionLost{})
}

func (c *Connector) cancelAcceptLocked() {
	if c.accept != nil {
		c.accept.cancel()
		c.accept = nil
	}
}

func (c *Connector) cancelStreamLocked() {
	if c.stream != nil {
		c.stream.cancel()
		c.stream = nil
	}
}

func (c *Connector) setStateLocked(s btlink.State) {
	log.Debugf("state %s -> %s", btlink.State(c.state.Load()), s)
	c.state.Store(int32(s))
	c.sink.Emit(btlink.StateChanged{State: s})
}

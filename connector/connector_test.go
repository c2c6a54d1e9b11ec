package connector

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	gomock "go.uber.org/mock/gomock"

	"btlink"
	"btlink/transport"
	"btlink/transport/mock_transport"
)

func nextEvent(t *testing.T, sink btlink.ChanSink) btlink.Event {
	t.Helper()
	select {
	case ev := <-sink:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertNoEvent(t *testing.T, sink btlink.ChanSink, d time.Duration) {
	t.Helper()
	select {
	case ev := <-sink:
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(d):
	}
}

// stubListener is a hand-rolled listener with pluggable behavior, for cases
// where a blocking or racing accept is easier to script than a gomock
// expectation.
type stubListener struct {
	accept func() (transport.Conn, error)

	mu      sync.Mutex
	closes  int
	closeCh chan struct{}
}

func newStubListener(accept func() (transport.Conn, error)) *stubListener {
	l := &stubListener{closeCh: make(chan struct{})}
	if accept != nil {
		l.accept = accept
	} else {
		l.accept = func() (transport.Conn, error) {
			<-l.closeCh
			return nil, io.EOF
		}
	}
	return l
}

func (l *stubListener) Accept() (transport.Conn, error) {
	return l.accept()
}

func (l *stubListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	if l.closes == 1 {
		close(l.closeCh)
	}
	return nil
}

func (l *stubListener) closeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

// Scenario from the happy path: connect, accept succeeds with remote name
// "Badge-7", one 10-byte read, then the stream errors.
func TestConnectAcceptSuccessEventOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := make(btlink.ChanSink, 64)

	tr := mock_transport.NewMockTransport(ctrl)
	ls := mock_transport.NewMockListener(ctrl)
	conn := mock_transport.NewMockConn(ctrl)
	stream := mock_transport.NewMockStream(ctrl)

	tr.EXPECT().Listen(transport.SPPServiceTag).Return(ls, nil)
	ls.EXPECT().Accept().Return(conn, nil)
	ls.EXPECT().Close().Return(nil).Times(1)
	conn.EXPECT().OpenStream().Return(stream, nil)
	conn.EXPECT().RemoteName().Return("Badge-7")

	payload := []byte("0123456789")
	reads := 0
	stream.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
		reads++
		if reads == 1 {
			copy(p, payload)
			return len(payload), nil
		}
		return 0, errors.New("connection reset")
	}).AnyTimes()

	c := New(tr, sink)
	c.Connect("dev-A")

	assert.Equal(t, btlink.StateChanged{State: btlink.StateConnecting}, nextEvent(t, sink))
	assert.Equal(t, btlink.DeviceIdentified{Name: "Badge-7"}, nextEvent(t, sink))
	assert.Equal(t, btlink.StateChanged{State: btlink.StateConnected}, nextEvent(t, sink))
	assert.Equal(t, btlink.StateConnected, c.State())

	assert.Equal(t, btlink.DataReceived{Data: payload, N: 10}, nextEvent(t, sink))
	assert.Equal(t, btlink.ConnectionLost{}, nextEvent(t, sink))
	// the failed worker is terminal: nothing more may arrive
	assertNoEvent(t, sink, 50*time.Millisecond)
}

// Scenario from the failure path: listening-socket creation fails, the
// accept attempt fails deterministically, and no Connected transition
// happens.
func TestListenFailureEmitsConnectionFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := make(btlink.ChanSink, 64)

	tr := mock_transport.NewMockTransport(ctrl)
	tr.EXPECT().Listen(transport.SPPServiceTag).Return(nil, errors.New("no adapter"))

	c := New(tr, sink)
	c.Connect("dev-B")

	assert.Equal(t, btlink.StateChanged{State: btlink.StateConnecting}, nextEvent(t, sink))
	assert.Equal(t, btlink.ConnectionFailed{}, nextEvent(t, sink))
	// the failure event bypasses the state machine
	assert.Equal(t, btlink.StateConnecting, c.State())
	assertNoEvent(t, sink, 50*time.Millisecond)
}

func TestAcceptFailureEmitsConnectionFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := make(btlink.ChanSink, 64)

	tr := mock_transport.NewMockTransport(ctrl)
	ls := newStubListener(func() (transport.Conn, error) {
		return nil, errors.New("accept: adapter powered off")
	})
	tr.EXPECT().Listen(transport.SPPServiceTag).Return(ls, nil)

	c := New(tr, sink)
	c.Connect("dev-A")

	assert.Equal(t, btlink.StateChanged{State: btlink.StateConnecting}, nextEvent(t, sink))
	assert.Equal(t, btlink.ConnectionFailed{}, nextEvent(t, sink))
	// the worker closed its listening socket on the way out
	assert.Equal(t, 1, ls.closeCount())
}

func TestStopWhileIdle(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := make(btlink.ChanSink, 64)

	// no expectations: Stop while idle must perform no socket operations
	tr := mock_transport.NewMockTransport(ctrl)

	c := New(tr, sink)
	c.Stop()

	assert.Equal(t, btlink.StateChanged{State: btlink.StateIdle}, nextEvent(t, sink))
	assert.Equal(t, btlink.StateIdle, c.State())
	assertNoEvent(t, sink, 50*time.Millisecond)
}

func TestStopCancelsPendingAccept(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := make(btlink.ChanSink, 64)

	tr := mock_transport.NewMockTransport(ctrl)
	ls := newStubListener(nil) // blocks until closed
	tr.EXPECT().Listen(transport.SPPServiceTag).Return(ls, nil)

	c := New(tr, sink)
	c.Connect("dev-A")
	assert.Equal(t, btlink.StateChanged{State: btlink.StateConnecting}, nextEvent(t, sink))

	c.Stop()
	assert.Equal(t, btlink.StateChanged{State: btlink.StateIdle}, nextEvent(t, sink))
	// cancellation suppresses ConnectionFailed
	assertNoEvent(t, sink, 50*time.Millisecond)
	assert.GreaterOrEqual(t, ls.closeCount(), 1)
}

// A worker whose accept completes after it has been superseded must not
// install itself; its connection is discarded.
func TestStaleAcceptDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := make(btlink.ChanSink, 64)

	tr := mock_transport.NewMockTransport(ctrl)
	conn := mock_transport.NewMockConn(ctrl)
	connClosed := make(chan struct{})
	conn.EXPECT().Close().DoAndReturn(func() error {
		close(connClosed)
		return nil
	})

	release := make(chan struct{})
	ls := newStubListener(func() (transport.Conn, error) {
		<-release
		return conn, nil
	})
	tr.EXPECT().Listen(transport.SPPServiceTag).Return(ls, nil)

	c := New(tr, sink)
	c.Connect("dev-A")
	assert.Equal(t, btlink.StateChanged{State: btlink.StateConnecting}, nextEvent(t, sink))

	c.Stop()
	assert.Equal(t, btlink.StateChanged{State: btlink.StateIdle}, nextEvent(t, sink))

	// now let the cancelled worker's accept "win" its race
	close(release)
	select {
	case <-connClosed:
	case <-time.After(time.Second):
		t.Fatal("stale connection was not closed")
	}
	assert.Equal(t, btlink.StateIdle, c.State())
	assertNoEvent(t, sink, 50*time.Millisecond)
}

// Connecting while connected goes through Connecting again and tears down
// the previous stream worker without a ConnectionLost.
func TestConnectWhileConnectedTearsDownStream(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := make(btlink.ChanSink, 64)

	tr := mock_transport.NewMockTransport(ctrl)
	conn := mock_transport.NewMockConn(ctrl)
	stream := mock_transport.NewMockStream(ctrl)

	ls1 := newStubListener(func() (transport.Conn, error) {
		return conn, nil
	})
	ls2 := newStubListener(nil) // second attempt just waits
	gomock.InOrder(
		tr.EXPECT().Listen(transport.SPPServiceTag).Return(ls1, nil),
		tr.EXPECT().Listen(transport.SPPServiceTag).Return(ls2, nil),
	)

	conn.EXPECT().OpenStream().Return(stream, nil)
	conn.EXPECT().RemoteName().Return("Badge-7")

	// the read blocks until the connection is force-closed, like a real
	// socket
	closed := make(chan struct{})
	var closeOnce sync.Once
	conn.EXPECT().Close().DoAndReturn(func() error {
		closeOnce.Do(func() { close(closed) })
		return nil
	}).AnyTimes()
	readerDone := make(chan struct{})
	stream.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
		<-closed
		close(readerDone)
		return 0, errors.New("use of closed connection")
	})

	c := New(tr, sink)
	c.Connect("dev-A")
	assert.Equal(t, btlink.StateChanged{State: btlink.StateConnecting}, nextEvent(t, sink))
	assert.Equal(t, btlink.DeviceIdentified{Name: "Badge-7"}, nextEvent(t, sink))
	assert.Equal(t, btlink.StateChanged{State: btlink.StateConnected}, nextEvent(t, sink))

	c.Connect("dev-A")
	assert.Equal(t, btlink.StateChanged{State: btlink.StateConnecting}, nextEvent(t, sink))
	assert.Equal(t, btlink.StateConnecting, c.State())

	select {
	case <-readerDone:
	case <-time.After(time.Second):
		t.Fatal("old stream worker still blocked")
	}
	// the displaced worker reports nothing: no DataReceived, no
	// ConnectionLost
	assertNoEvent(t, sink, 50*time.Millisecond)

	c.Stop()
	assert.Equal(t, btlink.StateChanged{State: btlink.StateIdle}, nextEvent(t, sink))
}

func TestStopSuppressesConnectionLost(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := make(btlink.ChanSink, 64)

	tr := mock_transport.NewMockTransport(ctrl)
	conn := mock_transport.NewMockConn(ctrl)
	stream := mock_transport.NewMockStream(ctrl)

	ls := newStubListener(func() (transport.Conn, error) {
		return conn, nil
	})
	tr.EXPECT().Listen(transport.SPPServiceTag).Return(ls, nil)
	conn.EXPECT().OpenStream().Return(stream, nil)
	conn.EXPECT().RemoteName().Return("Badge-7")

	closed := make(chan struct{})
	var closeOnce sync.Once
	conn.EXPECT().Close().DoAndReturn(func() error {
		closeOnce.Do(func() { close(closed) })
		return nil
	}).AnyTimes()
	readerDone := make(chan struct{})
	stream.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
		<-closed
		close(readerDone)
		return 0, errors.New("use of closed connection")
	})

	c := New(tr, sink)
	c.Connect("dev-A")
	assert.Equal(t, btlink.StateChanged{State: btlink.StateConnecting}, nextEvent(t, sink))
	assert.Equal(t, btlink.DeviceIdentified{Name: "Badge-7"}, nextEvent(t, sink))
	assert.Equal(t, btlink.StateChanged{State: btlink.StateConnected}, nextEvent(t, sink))

	c.Stop()
	assert.Equal(t, btlink.StateChanged{State: btlink.StateIdle}, nextEvent(t, sink))

	select {
	case <-readerDone:
	case <-time.After(time.Second):
		t.Fatal("stream worker still blocked after Stop")
	}
	assertNoEvent(t, sink, 50*time.Millisecond)
}

// Repeated Connect calls keep at most one listener alive: every superseded
// listener is closed before the next one starts.
func TestRepeatedConnectSupersedesListeners(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := make(btlink.ChanSink, 64)

	tr := mock_transport.NewMockTransport(ctrl)
	listeners := []*stubListener{
		newStubListener(nil),
		newStubListener(nil),
		newStubListener(nil),
	}
	gomock.InOrder(
		tr.EXPECT().Listen(transport.SPPServiceTag).Return(listeners[0], nil),
		tr.EXPECT().Listen(transport.SPPServiceTag).Return(listeners[1], nil),
		tr.EXPECT().Listen(transport.SPPServiceTag).Return(listeners[2], nil),
	)

	c := New(tr, sink)
	c.Connect("dev-A")
	c.Connect("dev-A")
	c.Connect("dev-A")

	// the two superseded listeners were cancelled synchronously
	assert.GreaterOrEqual(t, listeners[0].closeCount(), 1)
	assert.GreaterOrEqual(t, listeners[1].closeCount(), 1)
	assert.Equal(t, 0, listeners[2].closeCount())

	c.Stop()
	assert.GreaterOrEqual(t, listeners[2].closeCount(), 1)
	assert.Equal(t, btlink.StateIdle, c.State())
}

func TestStateIsReadableDuringTransitions(t *testing.T) {
	ctrl := gomock.NewController(t)
	// an unbuffered sink blocks the transition mid-emit; State must still
	// answer
	sink := make(btlink.ChanSink)

	tr := mock_transport.NewMockTransport(ctrl)
	ls := newStubListener(nil)
	tr.EXPECT().Listen(transport.SPPServiceTag).Return(ls, nil)

	c := New(tr, sink)
	done := make(chan struct{})
	go func() {
		c.Connect("dev-A")
		close(done)
	}()

	// the transition is parked on the sink; State answers regardless
	assert.Eventually(t, func() bool {
		return c.State() == btlink.StateConnecting
	}, time.Second, time.Millisecond)

	assert.Equal(t, btlink.StateChanged{State: btlink.StateConnecting}, nextEvent(t, sink))
	<-done
	go c.Stop()
	assert.Equal(t, btlink.StateChanged{State: btlink.StateIdle}, nextEvent(t, sink))
}

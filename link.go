package btlink

// State is the connection state of a Link. A Link is in exactly one state
// at any instant.
type State int

const (
	// StateIdle means the link is doing nothing.
	StateIdle State = iota
	// StateListening means the link is listening for incoming connections.
	// It is part of the host-facing contract but the connector never enters
	// it; a connection attempt goes straight to StateConnecting.
	StateListening
	// StateConnecting means a connection attempt is in flight.
	StateConnecting
	// StateConnected means the link has a live connection to a remote device.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Event is a notification delivered to the host application. The concrete
// types are StateChanged, DeviceIdentified, DataReceived, ConnectionFailed
// and ConnectionLost.
type Event interface {
	event()
}

// StateChanged reports that the link entered a new state.
type StateChanged struct {
	State State
}

// DeviceIdentified reports the display name of the remote device. It is
// always emitted before the StateChanged(StateConnected) of the same
// connection.
type DeviceIdentified struct {
	Name string
}

// DataReceived carries the bytes of one read from the live connection.
// Data is a copy owned by the receiver; N is the byte count of the read.
type DataReceived struct {
	Data []byte
	N    int
}

// ConnectionFailed reports that a connection attempt failed. The link state
// is not changed by this event; recovery is up to the host.
type ConnectionFailed struct{}

// ConnectionLost reports that a live connection was lost. It is not emitted
// when the connection is torn down on purpose via Stop or a new Connect.
type ConnectionLost struct{}

func (StateChanged) event()     {}
func (DeviceIdentified) event() {}
func (DataReceived) event()     {}
func (ConnectionFailed) event() {}
func (ConnectionLost) event()   {}

// EventSink receives events from a Link. The sink reference is shared by
// the connector and its workers; implementations must be safe for
// concurrent use and must not block indefinitely, since events are emitted
// while the connector holds its transition lock.
type EventSink interface {
	Emit(Event)
}

// ChanSink is an EventSink backed by a channel. Create it with enough
// buffer for the host's consumption rate.
type ChanSink chan Event

// Emit sends the event on the channel.
func (s ChanSink) Emit(ev Event) {
	s <- ev
}

// Link is a single logical point-to-point connection.
type Link interface {
	// Connect requests a connection to the named remote endpoint. Any
	// in-flight attempt or live connection is torn down first. The outcome
	// is reported asynchronously through the EventSink.
	Connect(remote string)
	// Stop tears down the link and returns it to StateIdle.
	Stop()
	// State returns the current state. It never blocks.
	State() State
}

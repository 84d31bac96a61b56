package core

import (
	"errors"

	"github.com/dkeye/Dial/internal/protocol"
)

// ErrTransportClosed is returned by Send after the connection is gone and is
// the reason a running orchestrator stops.
var ErrTransportClosed = errors.New("signal transport closed")

// Frame is a raw JSON payload.
type Frame []byte

// SignalConnection abstracts the server side of one identity's socket.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Transport is the client side of the per-identity signaling socket.
// Inbound is closed when the connection drops; there is no reconnect.
type Transport interface {
	Send(protocol.Envelope) error
	Inbound() <-chan protocol.Envelope
}

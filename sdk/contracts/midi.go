package contracts

import (
	"context"
	"errors"
	"time"
)

// Errors shared by every endpoint implementation.
var (
	ErrNotConnected    = errors.New("endpoint is not connected")
	ErrClosed          = errors.New("endpoint is closed")
	ErrEmptyMessage    = errors.New("empty MIDI message")
	ErrMalformedPacket = errors.New("malformed packet")
	ErrSessionRejected = errors.New("session invitation rejected")
)

// Message is a single MIDI command travelling through the bridge.
type Message struct {
	Delta time.Duration // Delta is the time elapsed since the previous message on the same stream.
	Data  []byte        // Data holds one complete MIDI command or SysEx fragment.
}

// SessionState is the lifecycle state of a network session.
type SessionState int

const (
	// SessionIdle means no peer is connected and no invitation is pending.
	SessionIdle SessionState = iota
	// SessionInviting means an invitation was sent and no answer was received yet.
	SessionInviting
	// SessionConnected means the handshake completed on both ports.
	SessionConnected
	// SessionClosed means the session was closed and cannot be reused.
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionInviting:
		return "inviting"
	case SessionConnected:
		return "connected"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// NetworkEndpoint is a network MIDI session.
type NetworkEndpoint interface {
	Connect(ctx context.Context, host string, port int) error // Sends an invitation to the peer; the outcome is reported through State.
	Messages() <-chan Message                                 // Inbound MIDI in arrival order.
	Send(msg Message) error                                   // Transmits one message, delta included, to the connected peer.
	State() SessionState                                      // Current session state.
	Binding() Binding                                         // Describes the endpoint.
	Close() error                                             // Ends the session and releases the sockets.
}

// VirtualPorts is a pair of OS-level virtual MIDI ports.
type VirtualPorts interface {
	Messages() <-chan Message // MIDI written to the virtual input by local applications.
	Send(data []byte) error   // Hands a raw MIDI command to the virtual output.
	Bindings() []Binding      // Describes the input and the output.
	Close() error             // Unregisters both ports.
}

package call

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned by StartCall when another call is pending or active.
	ErrBusy = errors.New("another call is pending or active")

	// ErrNoPendingCall is returned by AcceptCall/RejectCall when no incoming
	// call is waiting.
	ErrNoPendingCall = errors.New("no pending incoming call")

	// ErrNotInCall is returned by EndCall for a peer with no active call.
	ErrNotInCall = errors.New("no active call with peer")

	// ErrCallSuperseded is returned when an in-flight start/accept completed
	// after the call was already torn down; its results were discarded.
	ErrCallSuperseded = errors.New("call torn down during negotiation")
)

// DeviceError wraps a local media acquisition failure. It aborts the
// in-flight transition and rolls the controller back to idle.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("media capture: %v", e.Err) }
func (e *DeviceError) Unwrap() error { return e.Err }

// NegotiationError wraps a description or candidate application failure.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string { return fmt.Sprintf("negotiation: %s: %v", e.Op, e.Err) }
func (e *NegotiationError) Unwrap() error { return e.Err }

// TransportError wraps a signaling send failure. Local call state is kept;
// the caller decides whether to retry or hang up.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("signaling: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError marks an inbound envelope that violates the signaling
// protocol. These are logged and dropped; they never abort a call.
type ProtocolError struct {
	Type string
	Err  error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol: %s envelope: %v", e.Type, e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// Package call manages live camera sessions between a requesting viewer and
// a target device. Signaling travels over the realtime channel; the media
// negotiation itself is delegated to the Peer primitive (Pion by default).
package call

import "errors"

// State is the session lifecycle position. Transitions only move forward
// along defined edges; Failed is reachable from every non-terminal state and
// nothing leaves Closed or Failed.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateAccepted
	StateRejected
	StateOffering
	StateAnswering
	StateConnected
	StateClosed
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:      "idle",
	StateRequested: "requested",
	StateAccepted:  "accepted",
	StateRejected:  "rejected",
	StateOffering:  "offering",
	StateAnswering: "answering",
	StateConnected: "connected",
	StateClosed:    "closed",
	StateFailed:    "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether the session can never leave this state.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Role distinguishes the two parties of a session.
type Role int

const (
	// Requester is the viewer asking to see the target's camera.
	Requester Role = iota
	// Responder is the target device that sends its media.
	Responder
)

func (r Role) String() string {
	if r == Requester {
		return "requester"
	}
	return "responder"
}

var (
	// ErrSessionClosed rejects operations on a session already in a
	// terminal state.
	ErrSessionClosed = errors.New("call: session closed")

	// ErrBadSignal reports a malformed or out-of-sequence signaling
	// message; the affected session is failed.
	ErrBadSignal = errors.New("call: protocol error")

	// ErrNegotiationTimeout fires when no terminal negotiation outcome is
	// reached within the configured window.
	ErrNegotiationTimeout = errors.New("call: negotiation timed out")
)

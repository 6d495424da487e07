// Package agentconn implements the agent connection state machine:
// the sequence a query dispatcher drives one mirror agent through,
// from opening or renting a socket, through the request/reply exchange, to
// reporting the outcome back to that agent's dashboard.
package agentconn

// State is one node in the agent connection's transition graph.
type State int

const (
	// StateIdle is the starting state: no socket, no attempt yet.
	StateIdle State = iota
	// StateConnecting covers both renting a persistent socket and opening a
	// fresh one; they share a state because both are allowed to fail the
	// same way (connect timeout/refusal) and recover the same way (retry
	// the next mirror).
	StateConnecting
	// StateSendingRequest is writing the framed request envelope.
	StateSendingRequest
	// StateAwaitingReply is waiting for and reading the framed reply
	// envelope.
	StateAwaitingReply
	// StateDone is a terminal success: the reply was read and decoded.
	StateDone
	// StateRetry is a terminal-for-this-mirror failure that the caller
	// should retry against the group's next mirror, if the retry budget
	// allows.
	StateRetry
	// StateFailed is a terminal failure with no more retries: the error is
	// returned to the original caller.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSendingRequest:
		return "sending-request"
	case StateAwaitingReply:
		return "awaiting-reply"
	case StateDone:
		return "done"
	case StateRetry:
		return "retry"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

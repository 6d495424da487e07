package agentconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:            "idle",
		StateConnecting:      "connecting",
		StateSendingRequest:  "sending-request",
		StateAwaitingReply:   "awaiting-reply",
		StateDone:            "done",
		StateRetry:           "retry",
		StateFailed:          "failed",
		State(99):            "unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}

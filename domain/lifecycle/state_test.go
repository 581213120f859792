package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransitionLegalMoves(t *testing.T) {
	legal := []struct{ from, to State }{
		{StatePending, StateAllocated},
		{StatePending, StateFailed},
		{StateAllocated, StateActive},
		{StateAllocated, StateRevoking},
		{StateAllocated, StateFailed},
		{StateActive, StateSuspended},
		{StateActive, StateRevoking},
		{StateActive, StateFailed},
		{StateSuspended, StateActive},
		{StateSuspended, StateRevoking},
		{StateSuspended, StateFailed},
		{StateRevoking, StateRevoked},
		{StateRevoking, StateFailed},
		{StateFailed, StateAllocated},
		{StateFailed, StateRevoking},
	}
	for _, tc := range legal {
		assert.Truef(t, ValidateTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}
}

func TestValidateTransitionIllegalMoves(t *testing.T) {
	illegal := []struct{ from, to State }{
		{StatePending, StateActive},
		{StatePending, StateRevoked},
		{StateActive, StatePending},
		{StateRevoked, StateAllocated},
		{StateRevoked, StatePending},
		{StateFailed, StateActive},
		{StateFailed, StateRevoked},
		{StateSuspended, StatePending},
	}
	for _, tc := range illegal {
		assert.Falsef(t, ValidateTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestValidateTransitionUnknownState(t *testing.T) {
	assert.False(t, ValidateTransition(State("bogus"), StateAllocated))
}

func TestRevokedIsTerminal(t *testing.T) {
	targets := TransitionTable[StateRevoked]
	assert.Empty(t, targets)
}

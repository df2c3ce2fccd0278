package agentcore

import (
	"errors"
	"fmt"
)

// ErrNoProvider indicates a loop was built without a provider configured.
var ErrNoProvider = errors.New("agentcore: no provider configured")

// ErrNoStore indicates a loop was built without a session store configured.
var ErrNoStore = errors.New("agentcore: no session store configured")

// LoopPhase names the stage of the reply-loop algorithm an error occurred
// in, mirroring the teacher's iteration-scoped LoopError.
type LoopPhase string

const (
	PhaseInit         LoopPhase = "init"
	PhaseFilter       LoopPhase = "filter"
	PhaseBuildRequest LoopPhase = "build_request"
	PhaseStream       LoopPhase = "stream"
	PhaseToolCall     LoopPhase = "tool_call"
	PhaseComplete     LoopPhase = "complete"
)

// LoopError carries the phase and turn a reply-loop error occurred in.
type LoopError struct {
	Phase LoopPhase
	Turn  int
	Cause error
}

func (e *LoopError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("agentcore: error at %s (turn %d)", e.Phase, e.Turn)
	}
	return fmt.Sprintf("agentcore: error at %s (turn %d): %v", e.Phase, e.Turn, e.Cause)
}

func (e *LoopError) Unwrap() error { return e.Cause }

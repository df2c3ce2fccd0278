package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/agentrt/core/internal/agentcore"
	"github.com/agentrt/core/internal/pool"
	"github.com/agentrt/core/pkg/convo"
)

// InProcessDispatcher runs a sub-task through a full agent reply loop
// (not a single provider completion) so it gets tool use, streaming, and
// retry behavior identical to a top-level turn. It is the default
// backend for the InProcessSpecialist strategy and the fallback target
// for every strategy this repo can't yet reach externally.
type InProcessDispatcher struct {
	Pool  *pool.Pool
	Loop  *agentcore.Loop
	Store agentcore.SessionStore
}

// NewInProcessDispatcher wires a dispatcher over a shared pool, reply
// loop, and session store.
func NewInProcessDispatcher(p *pool.Pool, loop *agentcore.Loop, store agentcore.SessionStore) *InProcessDispatcher {
	return &InProcessDispatcher{Pool: p, Loop: loop, Store: store}
}

func (d *InProcessDispatcher) DispatchOne(ctx context.Context, task SubTask, strategy Strategy) DispatchResult {
	start := time.Now()

	sessionID := fmt.Sprintf("task-%s", task.TaskID)
	session := &agentcore.Session{
		ID:           sessionID,
		SystemPrompt: "You are a specialist agent executing one sub-task of a larger plan.",
		Conversation: convo.Empty(),
		Config:       agentcore.DefaultSessionConfig(),
	}
	if err := d.Store.Update(ctx, session); err != nil {
		return failure(task, strategy, start, fmt.Errorf("create sub-task session: %w", err))
	}

	id, err := d.Pool.Spawn(ctx, pool.SpawnConfig{
		Persona: task.Routing.AgentName,
		Prompt:  task.SubTaskDescription,
		Run:     pool.ReplyRunner(d.Loop, sessionID, task.SubTaskDescription),
	})
	if err != nil {
		return failure(task, strategy, start, err)
	}

	agentResult, err := d.Pool.Join(ctx, id)
	if err != nil {
		return failure(task, strategy, start, err)
	}

	status := StatusCompleted
	switch agentResult.Status {
	case pool.StatusFailed:
		status = StatusFailed
	case pool.StatusCancelled:
		status = StatusCancelled
	}

	return DispatchResult{
		TaskID:          task.TaskID,
		TaskDescription: task.SubTaskDescription,
		AgentName:       task.Routing.AgentName,
		Strategy:        string(strategy.Kind),
		Output:          agentResult.Output,
		Status:          status,
		Duration:        time.Since(start),
		Err:             agentResult.Error,
	}
}

func failure(task SubTask, strategy Strategy, start time.Time, err error) DispatchResult {
	return DispatchResult{
		TaskID:          task.TaskID,
		TaskDescription: task.SubTaskDescription,
		AgentName:       task.Routing.AgentName,
		Strategy:        string(strategy.Kind),
		Status:          StatusFailed,
		Duration:        time.Since(start),
		Err:             err.Error(),
	}
}

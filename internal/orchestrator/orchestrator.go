package orchestrator

import (
	"context"

	"github.com/agentrt/core/internal/dispatch"
)

// Orchestrator converts a single user request into a plan and drives its
// sub-tasks to completion, respecting the plan's dependency DAG.
type Orchestrator struct {
	Planner    Planner
	Dispatcher dispatch.Dispatcher

	// AgentEndpoints maps an agent_name to a remote URL. A sub-task
	// routed to an agent present here with a non-empty URL dispatches
	// via RemoteA2AAgent; every other sub-task runs InProcessSpecialist.
	// This mirrors the "(sub_task, optional_remote_url)" pairing the
	// dispatcher's DAG scheduler is built around: presence of a URL,
	// not a field on the sub-task itself, selects the strategy.
	AgentEndpoints map[string]string

	// MaxConcurrency bounds how many independent sub-tasks run at once.
	// Values below 1 are treated as 1 (sequential).
	MaxConcurrency int
}

// New builds an Orchestrator with sane defaults.
func New(planner Planner, dispatcher dispatch.Dispatcher) *Orchestrator {
	return &Orchestrator{Planner: planner, Dispatcher: dispatcher, MaxConcurrency: 4}
}

// Execute plans request and runs every resulting sub-task, returning
// results in the same order as the plan's sub-tasks.
func (o *Orchestrator) Execute(ctx context.Context, request string) ([]dispatch.DispatchResult, error) {
	plan, err := o.Planner.Plan(ctx, request)
	if err != nil {
		return nil, err
	}

	strategies := make([]dispatch.Strategy, len(plan.SubTasks))
	for i, task := range plan.SubTasks {
		strategies[i] = o.resolveStrategy(task)
	}

	maxConcurrency := o.MaxConcurrency
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	return dispatch.ExecuteDAG(ctx, o.Dispatcher, plan.SubTasks, strategies, maxConcurrency), nil
}

func (o *Orchestrator) resolveStrategy(task dispatch.SubTask) dispatch.Strategy {
	if url, ok := o.AgentEndpoints[task.Routing.AgentName]; ok && url != "" {
		return dispatch.Strategy{Kind: dispatch.RemoteA2AAgent, URL: url}
	}
	return dispatch.Strategy{Kind: dispatch.InProcessSpecialist}
}

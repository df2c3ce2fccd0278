package dispatch

import "context"

// CompositeDispatcher routes each sub-task to the backend its Strategy
// names, defaulting unknown kinds to the in-process backend.
type CompositeDispatcher struct {
	InProcess *InProcessDispatcher
	Remote    *RemoteA2ADispatcher
	ACP       *ExternalACPDispatcher
}

func (d *CompositeDispatcher) DispatchOne(ctx context.Context, task SubTask, strategy Strategy) DispatchResult {
	switch strategy.Kind {
	case RemoteA2AAgent:
		return d.Remote.DispatchOne(ctx, task, strategy)
	case ExternalACPAgent:
		return d.ACP.DispatchOne(ctx, task, strategy)
	default:
		return d.InProcess.DispatchOne(ctx, task, strategy)
	}
}

package dispatch

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ExternalACPDispatcher targets an external agent process speaking the
// Agent Client Protocol over gRPC. The wire service itself isn't defined
// anywhere in the pack, so this dispatcher only probes reachability (a
// real gRPC dial, not a fabricated RPC) and otherwise behaves exactly as
// the spec describes: "falls back to in-process when unimplemented."
type ExternalACPDispatcher struct {
	Fallback Dispatcher
	Logger   *slog.Logger
}

// NewExternalACPDispatcher wires a dispatcher that falls back to fb for
// every sub-task until an ACP service definition exists to call.
func NewExternalACPDispatcher(fb Dispatcher, logger *slog.Logger) *ExternalACPDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExternalACPDispatcher{Fallback: fb, Logger: logger}
}

func (d *ExternalACPDispatcher) DispatchOne(ctx context.Context, task SubTask, strategy Strategy) DispatchResult {
	conn, err := grpc.NewClient(strategy.URL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		d.Logger.WarnContext(ctx, "ACP dispatch unreachable, falling back to in-process",
			"agent", task.Routing.AgentName, "url", strategy.URL, "error", err)
		return d.Fallback.DispatchOne(ctx, task, Strategy{Kind: InProcessSpecialist})
	}
	defer conn.Close()

	d.Logger.WarnContext(ctx, "ACP dispatch not yet implemented, falling back to in-process",
		"agent", task.Routing.AgentName, "url", strategy.URL, "conn_state", conn.GetState().String())
	return d.Fallback.DispatchOne(ctx, task, Strategy{Kind: InProcessSpecialist})
}

package dispatch

import (
	"context"
	"testing"
)

func TestExternalACPDispatcher_FallsBackToInProcess(t *testing.T) {
	fb := &recordingDispatcher{}
	d := NewExternalACPDispatcher(fb, nil)

	task := SubTask{TaskID: "t1", SubTaskDescription: "do it", Routing: RoutingDecision{AgentName: "specialist"}}
	result := d.DispatchOne(context.Background(), task, Strategy{Kind: ExternalACPAgent, URL: "acp.example.invalid:1"})

	if result.Status != StatusCompleted {
		t.Fatalf("expected the fallback dispatcher's Completed result, got %+v", result)
	}
	if len(fb.order) != 1 || fb.order[0] != "t1" {
		t.Errorf("expected fallback to have been invoked for t1, got %v", fb.order)
	}
}

package orchestrator

import (
	"context"
	"testing"

	"github.com/agentrt/core/internal/dispatch"
)

type fixedPlanner struct {
	plan Plan
	err  error
}

func (f fixedPlanner) Plan(ctx context.Context, request string) (Plan, error) {
	return f.plan, f.err
}

type stubDispatcher struct {
	seen []string
}

func (d *stubDispatcher) DispatchOne(ctx context.Context, task dispatch.SubTask, strategy dispatch.Strategy) dispatch.DispatchResult {
	d.seen = append(d.seen, string(strategy.Kind)+":"+task.Routing.AgentName)
	return dispatch.DispatchResult{TaskID: task.TaskID, Status: dispatch.StatusCompleted, Output: "ok"}
}

func TestOrchestrator_ExecuteSingleNodePlan(t *testing.T) {
	planner := fixedPlanner{plan: singleNodePlan("do the thing", "test")}
	d := &stubDispatcher{}
	o := New(planner, d)

	results, err := o.Execute(context.Background(), "do the thing")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 1 || results[0].Status != dispatch.StatusCompleted {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestOrchestrator_RoutesToRemoteWhenEndpointConfigured(t *testing.T) {
	plan := Plan{SubTasks: []dispatch.SubTask{
		{TaskID: "t1", SubTaskDescription: "a", Routing: dispatch.RoutingDecision{AgentName: "local-specialist"}},
		{TaskID: "t2", SubTaskDescription: "b", Routing: dispatch.RoutingDecision{AgentName: "remote-specialist"}},
	}}
	d := &stubDispatcher{}
	o := New(fixedPlanner{plan: plan}, d)
	o.AgentEndpoints = map[string]string{"remote-specialist": "https://remote.example.invalid"}

	if _, err := o.Execute(context.Background(), "go"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	wantLocal := string(dispatch.InProcessSpecialist) + ":local-specialist"
	wantRemote := string(dispatch.RemoteA2AAgent) + ":remote-specialist"
	foundLocal, foundRemote := false, false
	for _, s := range d.seen {
		if s == wantLocal {
			foundLocal = true
		}
		if s == wantRemote {
			foundRemote = true
		}
	}
	if !foundLocal || !foundRemote {
		t.Fatalf("expected one in-process and one remote dispatch, got %v", d.seen)
	}
}

func TestProviderPlanner_ParsesJSONPlanFromProse(t *testing.T) {
	text := "Here is the plan:\n" +
		`{"sub_tasks":[{"task_id":"t1","depends_on":[],"routing":{"agent_name":"writer","mode_slug":"default","confidence":0.8,"reasoning":"needs prose"},"sub_task_description":"draft the doc"}]}` +
		"\nLet me know if you need changes."

	plan, err := parsePlanJSON(text)
	if err != nil {
		t.Fatalf("parsePlanJSON: %v", err)
	}
	if len(plan.SubTasks) != 1 {
		t.Fatalf("expected 1 sub-task, got %d", len(plan.SubTasks))
	}
	st := plan.SubTasks[0]
	if st.TaskID != "t1" || st.Routing.AgentName != "writer" || st.SubTaskDescription != "draft the doc" {
		t.Errorf("unexpected sub-task: %+v", st)
	}
}

func TestProviderPlanner_FallsBackOnUnparsableOutput(t *testing.T) {
	plan, err := parsePlanJSON("I cannot produce a plan for this.")
	if err == nil {
		t.Fatalf("expected an error for non-JSON output, got plan %+v", plan)
	}
}

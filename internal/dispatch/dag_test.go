package dispatch

import (
	"context"
	"testing"
)

type recordingDispatcher struct {
	order []string
}

func (d *recordingDispatcher) DispatchOne(ctx context.Context, task SubTask, strategy Strategy) DispatchResult {
	d.order = append(d.order, task.TaskID)
	return DispatchResult{
		TaskID:          task.TaskID,
		TaskDescription: task.SubTaskDescription,
		AgentName:       task.Routing.AgentName,
		Strategy:        string(strategy.Kind),
		Output:          "done:" + task.TaskID,
		Status:          StatusCompleted,
	}
}

func sameStrategy(n int) []Strategy {
	out := make([]Strategy, n)
	for i := range out {
		out[i] = Strategy{Kind: InProcessSpecialist}
	}
	return out
}

func TestExecuteDAG_PreservesInputOrderOnFanIn(t *testing.T) {
	tasks := []SubTask{
		{TaskID: "a", SubTaskDescription: "A"},
		{TaskID: "b", DependsOn: []string{"a"}, SubTaskDescription: "B"},
		{TaskID: "c", DependsOn: []string{"a"}, SubTaskDescription: "C"},
		{TaskID: "d", DependsOn: []string{"b", "c"}, SubTaskDescription: "D"},
	}
	d := &recordingDispatcher{}
	results := ExecuteDAG(context.Background(), d, tasks, sameStrategy(4), 2)

	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for i, want := range []string{"a", "b", "c", "d"} {
		if results[i].TaskID != want {
			t.Errorf("result[%d].TaskID = %q, want %q", i, results[i].TaskID, want)
		}
		if results[i].Status != StatusCompleted {
			t.Errorf("result[%d].Status = %v, want Completed", i, results[i].Status)
		}
	}

	// "a" must complete before "b"/"c" are dispatched, and both of those
	// before "d" — a diamond dependency graph.
	aPos := indexOf(d.order, "a")
	dPos := indexOf(d.order, "d")
	if aPos != 0 {
		t.Errorf("expected %q to dispatch first, got order %v", "a", d.order)
	}
	if dPos != len(d.order)-1 {
		t.Errorf("expected %q to dispatch last, got order %v", "d", d.order)
	}
}

func indexOf(ss []string, target string) int {
	for i, s := range ss {
		if s == target {
			return i
		}
	}
	return -1
}

func TestExecuteDAG_SequentialWhenConcurrencyOne(t *testing.T) {
	tasks := []SubTask{
		{TaskID: "t1", SubTaskDescription: "one"},
		{TaskID: "t2", SubTaskDescription: "two"},
	}
	d := &recordingDispatcher{}
	results := ExecuteDAG(context.Background(), d, tasks, sameStrategy(2), 1)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if d.order[0] != "t1" || d.order[1] != "t2" {
		t.Errorf("expected sequential order [t1 t2], got %v", d.order)
	}
}

func TestExecuteDAG_MissingDependencyFallsBackToSequential(t *testing.T) {
	tasks := []SubTask{
		{TaskID: "only", DependsOn: []string{"does-not-exist"}, SubTaskDescription: "orphan"},
	}
	d := &recordingDispatcher{}
	results := ExecuteDAG(context.Background(), d, tasks, sameStrategy(1), 4)

	if len(results) != 1 || results[0].Status != StatusCompleted {
		t.Fatalf("expected the orphaned task to still run via the defensive fallback, got %+v", results)
	}
}

func TestExecuteDAG_CancelledContextLeavesUnlaunchedTasksCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []SubTask{
		{TaskID: "x", SubTaskDescription: "x"},
		{TaskID: "y", SubTaskDescription: "y"},
	}
	d := &recordingDispatcher{}
	results := ExecuteDAG(ctx, d, tasks, sameStrategy(2), 2)

	for _, r := range results {
		if r.Status != StatusCancelled {
			t.Errorf("expected Cancelled for task %q on a pre-cancelled context, got %v", r.TaskID, r.Status)
		}
	}
}

func TestExecuteDAG_EmptyTaskList(t *testing.T) {
	d := &recordingDispatcher{}
	results := ExecuteDAG(context.Background(), d, nil, nil, 4)
	if results != nil {
		t.Errorf("expected nil results for an empty task list, got %v", results)
	}
}

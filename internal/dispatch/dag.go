package dispatch

import (
	"context"
	"sort"
)

type readyItem struct {
	taskID string
	idx    int
}

type completion struct {
	idx    int
	result DispatchResult
}

// ExecuteDAG runs tasks respecting DependsOn, launching up to
// maxConcurrency independent tasks at a time. Results come back in the
// same order as tasks, regardless of completion order. A cycle or a
// dependency on an unknown task_id degrades to running whatever remains
// sequentially rather than deadlocking. If ctx is cancelled before every
// task has run, the not-yet-launched tasks are reported Cancelled.
func ExecuteDAG(ctx context.Context, d Dispatcher, tasks []SubTask, strategies []Strategy, maxConcurrency int) []DispatchResult {
	n := len(tasks)
	if n == 0 {
		return nil
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	idToIndex := make(map[string]int, n)
	for i, t := range tasks {
		idToIndex[t.TaskID] = i
	}

	dependents := make([][]int, n)
	indegree := make([]int, n)
	for i, t := range tasks {
		for _, dep := range t.DependsOn {
			if depIdx, ok := idToIndex[dep]; ok {
				indegree[i]++
				dependents[depIdx] = append(dependents[depIdx], i)
			}
		}
	}

	var ready []readyItem
	for i, t := range tasks {
		if indegree[i] == 0 {
			ready = append(ready, readyItem{t.TaskID, i})
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].taskID < ready[j].taskID })

	popReady := func() (int, bool) {
		if len(ready) == 0 {
			return 0, false
		}
		item := ready[0]
		ready = ready[1:]
		return item.idx, true
	}
	insertReady := func(idx int) {
		taskID := tasks[idx].TaskID
		pos := sort.Search(len(ready), func(i int) bool { return ready[i].taskID >= taskID })
		ready = append(ready, readyItem{})
		copy(ready[pos+1:], ready[pos:])
		ready[pos] = readyItem{taskID, idx}
	}

	results := make([]*DispatchResult, n)
	remaining := n
	inFlight := 0
	// Buffered to n so a goroutine launched before cancellation never
	// blocks trying to report its result after we've stopped reading.
	completions := make(chan completion, n)

	launch := func(idx int) {
		inFlight++
		go func() {
			completions <- completion{idx: idx, result: d.DispatchOne(ctx, tasks[idx], strategies[idx])}
		}()
	}

	for remaining > 0 {
		if ctx.Err() != nil {
			break
		}

		for inFlight < maxConcurrency {
			idx, ok := popReady()
			if !ok {
				break
			}
			launch(idx)
		}

		if inFlight == 0 {
			// Cycle or a dependency on a task_id outside this batch:
			// the ready set can never refill. Run what's left in
			// task_id order as a defensive fallback.
			remainingIdx := make([]int, 0, remaining)
			for i := range tasks {
				if results[i] == nil {
					remainingIdx = append(remainingIdx, i)
				}
			}
			sort.Slice(remainingIdx, func(i, j int) bool { return tasks[remainingIdx[i]].TaskID < tasks[remainingIdx[j]].TaskID })
			for _, i := range remainingIdx {
				r := d.DispatchOne(ctx, tasks[i], strategies[i])
				results[i] = &r
			}
			remaining = 0
			break
		}

		comp := <-completions
		inFlight--
		results[comp.idx] = &comp.result
		remaining--

		for _, dep := range dependents[comp.idx] {
			indegree[dep]--
			if indegree[dep] == 0 {
				insertReady(dep)
			}
		}
	}

	out := make([]DispatchResult, n)
	for i, t := range tasks {
		if results[i] != nil {
			out[i] = *results[i]
			continue
		}
		out[i] = DispatchResult{
			TaskID:          t.TaskID,
			TaskDescription: t.SubTaskDescription,
			AgentName:       t.Routing.AgentName,
			Strategy:        "cancelled",
			Status:          StatusCancelled,
		}
	}
	return out
}

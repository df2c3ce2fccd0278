// Package dispatch executes a single sub-task against one of three
// backends: an in-process specialist run through the agent pool, a
// remote agent speaking the A2A HTTP protocol, or an external ACP
// process (falls back to in-process until that transport exists).
package dispatch

import (
	"context"
	"time"
)

// DispatchStatus is the terminal outcome of one dispatch.
type DispatchStatus string

const (
	StatusCompleted DispatchStatus = "completed"
	StatusFailed    DispatchStatus = "failed"
	StatusCancelled DispatchStatus = "cancelled"
	StatusTimedOut  DispatchStatus = "timed_out"
)

// RoutingDecision is the orchestrator's choice of agent for a sub-task.
type RoutingDecision struct {
	AgentName  string
	ModeSlug   string
	Confidence float64
	Reasoning  string
}

// SubTask is one node of an orchestrator-produced plan.
type SubTask struct {
	TaskID             string
	DependsOn          []string
	Routing            RoutingDecision
	SubTaskDescription string
}

// StrategyKind discriminates a dispatch Strategy.
type StrategyKind string

const (
	InProcessSpecialist StrategyKind = "in_process_specialist"
	RemoteA2AAgent       StrategyKind = "remote_a2a_agent"
	ExternalACPAgent     StrategyKind = "external_acp_agent"
)

// Strategy picks the execution backend for a sub-task. URL is only
// meaningful for RemoteA2AAgent and ExternalACPAgent.
type Strategy struct {
	Kind StrategyKind
	URL  string
}

// DispatchResult is the outcome of dispatching one sub-task.
type DispatchResult struct {
	TaskID             string
	TaskDescription    string
	AgentName          string
	Strategy           string
	Output             string
	Status             DispatchStatus
	Duration           time.Duration
	Err                string
}

// Dispatcher executes sub-tasks against whatever backend a Strategy names.
type Dispatcher interface {
	DispatchOne(ctx context.Context, task SubTask, strategy Strategy) DispatchResult
}

// DispatchAll runs every (task, strategy) pair sequentially, in input
// order. Callers that want concurrency use ExecuteDAG instead, which
// respects DependsOn; DispatchAll is for the already-ordered case.
func DispatchAll(ctx context.Context, d Dispatcher, tasks []SubTask, strategies []Strategy) []DispatchResult {
	results := make([]DispatchResult, len(tasks))
	for i, task := range tasks {
		results[i] = d.DispatchOne(ctx, task, strategies[i])
	}
	return results
}

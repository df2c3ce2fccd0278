// Package orchestrator turns a single user request into a sub-task DAG
// and drives it to completion through internal/dispatch.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentrt/core/internal/dispatch"
	"github.com/agentrt/core/internal/providers"
	"github.com/agentrt/core/pkg/convo"
)

// Plan is the output of planning: a DAG of sub-tasks.
type Plan struct {
	SubTasks []dispatch.SubTask
}

// Planner produces a Plan for a user request. Simple requests may
// legitimately produce a single-node plan.
type Planner interface {
	Plan(ctx context.Context, request string) (Plan, error)
}

// ProviderPlanner asks the configured provider, in a dedicated "planning
// mode" system prompt, to decompose a request into a sub-task DAG as
// JSON. A response that fails to parse — or a provider call that errors
// — degrades to a single-node plan rather than failing the turn; most
// requests don't need decomposition, so this is the common case, not an
// edge case.
type ProviderPlanner struct {
	Provider   providers.Provider
	Model      string
	Specialists []SpecialistInfo
}

// SpecialistInfo describes one agent persona available to the planner,
// so it can choose sensible agent_name/mode_slug routing values.
type SpecialistInfo struct {
	AgentName   string
	Description string
}

func (p *ProviderPlanner) Plan(ctx context.Context, request string) (Plan, error) {
	req := providers.CompletionRequest{
		SystemPrompt: planningSystemPrompt(p.Specialists),
		Messages:     []convo.Message{convo.NewUserMessage(request)},
		MaxTokens:    2048,
	}

	result, err := p.Provider.CompleteWithModel(ctx, p.Model, req)
	if err != nil {
		return singleNodePlan(request, "planner call failed, falling back to a single-node plan"), nil
	}

	plan, err := parsePlanJSON(result.Message.Text())
	if err != nil || len(plan.SubTasks) == 0 {
		return singleNodePlan(request, "planner output did not parse as a sub-task DAG"), nil
	}
	return plan, nil
}

func singleNodePlan(request, reason string) Plan {
	return Plan{SubTasks: []dispatch.SubTask{{
		TaskID:             "task-1",
		SubTaskDescription: request,
		Routing: dispatch.RoutingDecision{
			AgentName:  "default",
			ModeSlug:   "default",
			Confidence: 1.0,
			Reasoning:  reason,
		},
	}}}
}

func planningSystemPrompt(specialists []SpecialistInfo) string {
	var sb strings.Builder
	sb.WriteString("You are a planning component. Decompose the user's request into a ")
	sb.WriteString("DAG of sub-tasks, or a single sub-task if no decomposition is needed. ")
	sb.WriteString("Respond with JSON only, matching this shape:\n")
	sb.WriteString(`{"sub_tasks":[{"task_id":"t1","depends_on":[],"routing":{"agent_name":"...","mode_slug":"...","confidence":0.9,"reasoning":"..."},"sub_task_description":"..."}]}`)
	sb.WriteString("\n\n")
	if len(specialists) > 0 {
		sb.WriteString("Available specialists:\n")
		for _, s := range specialists {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", s.AgentName, s.Description))
		}
	}
	return sb.String()
}

type planWire struct {
	SubTasks []subTaskWire `json:"sub_tasks"`
}

type subTaskWire struct {
	TaskID             string          `json:"task_id"`
	DependsOn          []string        `json:"depends_on"`
	Routing            routingWire     `json:"routing"`
	SubTaskDescription string          `json:"sub_task_description"`
}

type routingWire struct {
	AgentName  string  `json:"agent_name"`
	ModeSlug   string  `json:"mode_slug"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// parsePlanJSON extracts the first top-level JSON object from text (a
// model response may wrap it in prose or a code fence) and decodes it.
func parsePlanJSON(text string) (Plan, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return Plan{}, fmt.Errorf("orchestrator: no JSON object found in planner output")
	}

	var wire planWire
	if err := json.Unmarshal([]byte(text[start:end+1]), &wire); err != nil {
		return Plan{}, fmt.Errorf("orchestrator: decode planner output: %w", err)
	}

	plan := Plan{SubTasks: make([]dispatch.SubTask, len(wire.SubTasks))}
	for i, t := range wire.SubTasks {
		plan.SubTasks[i] = dispatch.SubTask{
			TaskID:    t.TaskID,
			DependsOn: t.DependsOn,
			Routing: dispatch.RoutingDecision{
				AgentName:  t.Routing.AgentName,
				ModeSlug:   t.Routing.ModeSlug,
				Confidence: t.Routing.Confidence,
				Reasoning:  t.Routing.Reasoning,
			},
			SubTaskDescription: t.SubTaskDescription,
		}
	}
	return plan, nil
}

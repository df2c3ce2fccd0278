package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AgentCard is the capability descriptor a remote agent publishes at
// "<url>/.well-known/agent-card.json". Only the fields this dispatcher
// needs to pick a dispatch endpoint are modeled.
type AgentCard struct {
	Name                string              `json:"name"`
	Description         string              `json:"description"`
	SupportedInterfaces []AgentCardInterface `json:"supported_interfaces"`
}

// AgentCardInterface is one transport binding a remote agent exposes.
type AgentCardInterface struct {
	URL              string `json:"url"`
	ProtocolBinding  string `json:"protocol_binding"`
}

// a2aDispatchRequest is the JSON body posted to a remote agent's
// dispatch endpoint.
type a2aDispatchRequest struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
	AgentName   string `json:"agent_name"`
}

// a2aDispatchResponse is the JSON body a remote agent returns.
type a2aDispatchResponse struct {
	Output string `json:"output"`
	Status string `json:"status"`
}

// RemoteA2ADispatcher executes a sub-task against a remote agent over
// plain HTTP: a GET to fetch its agent card (falling back to treating
// the configured URL as the direct endpoint if that fails), then a POST
// carrying the sub-task description.
type RemoteA2ADispatcher struct {
	Client *http.Client
}

// NewRemoteA2ADispatcher builds a dispatcher with a bounded-timeout HTTP
// client suitable for sub-task RPCs.
func NewRemoteA2ADispatcher() *RemoteA2ADispatcher {
	return &RemoteA2ADispatcher{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (d *RemoteA2ADispatcher) DispatchOne(ctx context.Context, task SubTask, strategy Strategy) DispatchResult {
	start := time.Now()
	if strategy.Kind != RemoteA2AAgent {
		return failure(task, strategy, start, fmt.Errorf("RemoteA2ADispatcher requires RemoteA2AAgent strategy, got %s", strategy.Kind))
	}

	endpoint := d.resolveEndpoint(ctx, strategy.URL)

	body, err := json.Marshal(a2aDispatchRequest{
		TaskID:      task.TaskID,
		Description: task.SubTaskDescription,
		AgentName:   task.Routing.AgentName,
	})
	if err != nil {
		return failure(task, strategy, start, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return failure(task, strategy, start, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return failure(task, strategy, start, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(task, strategy, start, err)
	}
	if resp.StatusCode >= 300 {
		return failure(task, strategy, start, fmt.Errorf("remote agent returned %d: %s", resp.StatusCode, raw))
	}

	var parsed a2aDispatchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return failure(task, strategy, start, fmt.Errorf("decode remote agent response: %w", err))
	}

	return DispatchResult{
		TaskID:          task.TaskID,
		TaskDescription: task.SubTaskDescription,
		AgentName:       task.Routing.AgentName,
		Strategy:        string(strategy.Kind),
		Output:          parsed.Output,
		Status:          StatusCompleted,
		Duration:        time.Since(start),
	}
}

// resolveEndpoint fetches the agent card at url/.well-known/agent-card.json
// and returns its first HTTP-capable interface URL. If the card can't be
// fetched or carries no usable interface, url itself is treated as the
// direct dispatch endpoint.
func (d *RemoteA2ADispatcher) resolveEndpoint(ctx context.Context, url string) string {
	cardURL := url + "/.well-known/agent-card.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return url
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return url
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return url
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return url
	}
	for _, iface := range card.SupportedInterfaces {
		if iface.URL != "" {
			return iface.URL
		}
	}
	return url
}

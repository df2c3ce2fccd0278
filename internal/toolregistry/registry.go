// Package toolregistry holds the set of tools an agent can invoke, validating
// call arguments against each tool's declared JSON Schema before dispatch.
package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentrt/core/pkg/convo"
)

// ErrAlreadyRegistered is returned by Register when a tool with the same
// name is already active — unlike the teacher's registry, which silently
// replaces on collision, names must be unique within the active set.
var ErrAlreadyRegistered = errors.New("toolregistry: a tool with this name is already registered")

// ErrNotFound is returned by Get and Call when no tool is registered under
// the requested name.
var ErrNotFound = errors.New("toolregistry: tool not found")

// Handler executes a tool call and returns its result content blocks.
type Handler func(ctx context.Context, args json.RawMessage) ([]convo.ContentBlock, error)

// Tool is a registered tool: its wire description plus the handler that
// runs it.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Handler     Handler

	compiled *jsonschema.Schema
}

// Registry is a thread-safe, name-unique set of tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register compiles t's schema and adds it to the active set. It fails if
// a tool with the same name is already registered, or if the schema does
// not compile.
func (r *Registry) Register(t Tool) error {
	compiled, err := compileSchema(t.Name, t.Schema)
	if err != nil {
		return err
	}
	t.compiled = compiled

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, t.Name)
	}
	r.tools[t.Name] = &t
	return nil
}

// Unregister removes a tool by name. It is not an error to unregister a
// name that isn't present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return *t, true
}

// Subset builds a new registry containing only the named tools that exist
// in r; unknown names are silently skipped since a caller's resolved tool
// list may reference tools another registry would have supplied. Tools are
// copied by reference, already-compiled schema included, so Subset does not
// re-validate or re-compile anything.
func (r *Registry) Subset(names []string) *Registry {
	out := New()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			out.tools[name] = t
		}
	}
	return out
}

// Specs returns the wire-facing description of every registered tool, for
// inclusion in a provider completion request.
func (r *Registry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, ToolSpec{Name: t.Name, Description: t.Description, Schema: t.Schema})
	}
	return out
}

// ToolSpec is the provider-facing description of a tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Call validates args against the tool's schema and, on success, invokes
// its handler. A schema mismatch never reaches the handler: it is returned
// as a structured error ToolResponse, matching how a misbehaving model's
// malformed call is reported back to it.
func (r *Registry) Call(ctx context.Context, toolID, name string, args json.RawMessage) convo.ToolResponse {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return errorResponse(toolID, fmt.Sprintf("tool %q is not registered", name))
	}

	if t.compiled != nil {
		var v any
		if err := json.Unmarshal(args, &v); err != nil {
			return errorResponse(toolID, fmt.Sprintf("invalid JSON arguments: %v", err))
		}
		if err := t.compiled.Validate(v); err != nil {
			return errorResponse(toolID, fmt.Sprintf("arguments do not match schema: %v", err))
		}
	}

	blocks, err := t.Handler(ctx, args)
	if err != nil {
		return errorResponse(toolID, err.Error())
	}
	return convo.ToolResponse{ID: toolID, Content: blocks}
}

func errorResponse(toolID, message string) convo.ToolResponse {
	return convo.ToolResponse{
		ID:      toolID,
		Content: []convo.ContentBlock{convo.Text{Text: message}},
		IsError: true,
	}
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + name
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("toolregistry: add schema resource for %q: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("toolregistry: compile schema for %q: %w", name, err)
	}
	return schema, nil
}

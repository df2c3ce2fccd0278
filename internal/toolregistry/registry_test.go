package toolregistry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/agentrt/core/pkg/convo"
)

func echoTool() Tool {
	return Tool{
		Name:        "echo",
		Description: "echoes the given text",
		Schema:      json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		Handler: func(ctx context.Context, args json.RawMessage) ([]convo.ContentBlock, error) {
			var in struct{ Text string }
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return []convo.ContentBlock{convo.Text{Text: in.Text}}, nil
		},
	}
}

func TestRegister_RejectsDuplicateName(t *testing.T) {
	r := New()
	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("unexpected error on first registration: %v", err)
	}
	err := r.Register(echoTool())
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestCall_ValidArgsInvokesHandler(t *testing.T) {
	r := New()
	_ = r.Register(echoTool())
	resp := r.Call(context.Background(), "call-1", "echo", json.RawMessage(`{"text":"hi"}`))
	if resp.IsError {
		t.Fatalf("expected success, got error response: %+v", resp.Content)
	}
	text, ok := resp.Content[0].(convo.Text)
	if !ok || text.Text != "hi" {
		t.Errorf("expected echoed text 'hi', got %+v", resp.Content)
	}
}

func TestCall_InvalidArgsRejectedBeforeHandler(t *testing.T) {
	r := New()
	_ = r.Register(echoTool())
	resp := r.Call(context.Background(), "call-2", "echo", json.RawMessage(`{}`))
	if !resp.IsError {
		t.Fatalf("expected schema validation failure, got success")
	}
}

func TestCall_UnknownToolReturnsErrorResponse(t *testing.T) {
	r := New()
	resp := r.Call(context.Background(), "call-3", "missing", json.RawMessage(`{}`))
	if !resp.IsError {
		t.Errorf("expected error response for unknown tool")
	}
}

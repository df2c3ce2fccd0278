package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRemoteA2ADispatcher_UsesAgentCardInterface(t *testing.T) {
	var dispatchHits int
	dispatchSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dispatchHits++
		var req a2aDispatchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(a2aDispatchResponse{Output: "remote says: " + req.Description, Status: "completed"})
	}))
	defer dispatchSrv.Close()

	cardSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.well-known/agent-card.json" {
			_ = json.NewEncoder(w).Encode(AgentCard{
				Name:                "remote-specialist",
				SupportedInterfaces: []AgentCardInterface{{URL: dispatchSrv.URL, ProtocolBinding: "HTTP"}},
			})
			return
		}
		http.NotFound(w, r)
	}))
	defer cardSrv.Close()

	d := NewRemoteA2ADispatcher()
	result := d.DispatchOne(context.Background(), SubTask{TaskID: "t1", SubTaskDescription: "investigate"}, Strategy{Kind: RemoteA2AAgent, URL: cardSrv.URL})

	if result.Status != StatusCompleted {
		t.Fatalf("expected Completed, got %v (err=%q)", result.Status, result.Err)
	}
	if result.Output != "remote says: investigate" {
		t.Errorf("unexpected output: %q", result.Output)
	}
	if dispatchHits != 1 {
		t.Errorf("expected exactly one dispatch call, got %d", dispatchHits)
	}
}

func TestRemoteA2ADispatcher_FallsBackToDirectURLWhenCardUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.well-known/agent-card.json" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(a2aDispatchResponse{Output: "direct ok", Status: "completed"})
	}))
	defer srv.Close()

	d := NewRemoteA2ADispatcher()
	result := d.DispatchOne(context.Background(), SubTask{TaskID: "t2", SubTaskDescription: "go"}, Strategy{Kind: RemoteA2AAgent, URL: srv.URL})

	if result.Status != StatusCompleted || result.Output != "direct ok" {
		t.Fatalf("expected direct-URL fallback to succeed, got %+v", result)
	}
}

func TestRemoteA2ADispatcher_RejectsWrongStrategy(t *testing.T) {
	d := NewRemoteA2ADispatcher()
	result := d.DispatchOne(context.Background(), SubTask{TaskID: "t3"}, Strategy{Kind: InProcessSpecialist})
	if result.Status != StatusFailed {
		t.Errorf("expected Failed for a non-RemoteA2AAgent strategy, got %v", result.Status)
	}
}

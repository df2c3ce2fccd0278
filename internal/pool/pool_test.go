package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentrt/core/pkg/convo"
)

func runFunc(text string, turns int, fail error) func(context.Context, *atomic.Uint32, *atomic.Int64, func(PoolEvent), []string) (*convo.Conversation, string, error) {
	return func(ctx context.Context, t *atomic.Uint32, la *atomic.Int64, emit func(PoolEvent), tools []string) (*convo.Conversation, string, error) {
		for i := 0; i < turns; i++ {
			t.Add(1)
			emit(PoolEvent{Kind: PoolEventTurnComplete, Turn: i + 1})
		}
		if fail != nil {
			return nil, "", fail
		}
		emit(PoolEvent{Kind: PoolEventMessage, Text: text})
		return convo.Empty(), text, nil
	}
}

func TestSpawnAndJoin_Success(t *testing.T) {
	p := New(2)
	id, err := p.Spawn(context.Background(), SpawnConfig{Persona: "writer", Run: runFunc("done", 2, nil)})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	result, err := p.Join(context.Background(), id)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("expected StatusCompleted, got %v", result.Status)
	}
	if result.Output != "done" {
		t.Errorf("expected output %q, got %q", "done", result.Output)
	}
	if result.TurnsTaken != 2 {
		t.Errorf("expected 2 turns taken, got %d", result.TurnsTaken)
	}

	if _, ok := p.Status(id); ok {
		t.Error("expected instance to be removed from the pool after Join")
	}
}

func TestSpawn_RejectsAtCapacity(t *testing.T) {
	p := New(1)
	block := make(chan struct{})
	_, err := p.Spawn(context.Background(), SpawnConfig{
		Run: func(ctx context.Context, t *atomic.Uint32, la *atomic.Int64, emit func(PoolEvent), tools []string) (*convo.Conversation, string, error) {
			<-block
			return convo.Empty(), "", nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error on first spawn: %v", err)
	}

	_, err = p.Spawn(context.Background(), SpawnConfig{Run: runFunc("x", 0, nil)})
	var capErr *ErrAtCapacity
	if !errors.As(err, &capErr) {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}
	close(block)
}

func TestJoin_UnknownInstance(t *testing.T) {
	p := New(1)
	_, err := p.Join(context.Background(), "missing")
	var notFound *ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancel_FiresContextForRunningInstance(t *testing.T) {
	p := New(1)
	cancelled := make(chan struct{})
	id, _ := p.Spawn(context.Background(), SpawnConfig{
		Run: func(ctx context.Context, t *atomic.Uint32, la *atomic.Int64, emit func(PoolEvent), tools []string) (*convo.Conversation, string, error) {
			<-ctx.Done()
			close(cancelled)
			return nil, "", ctx.Err()
		},
	})

	if err := p.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("instance was not cancelled")
	}

	result, err := p.Join(context.Background(), id)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.Status != StatusCancelled {
		t.Errorf("expected StatusCancelled, got %v", result.Status)
	}
}

func TestSubscribe_ReceivesBroadcastEvents(t *testing.T) {
	p := New(1)
	id, _ := p.Spawn(context.Background(), SpawnConfig{Run: runFunc("hi", 1, nil)})

	sub, ok := p.Subscribe(id)
	if !ok {
		t.Fatal("expected to subscribe to a running instance")
	}

	var sawCompleted bool
	timeout := time.After(2 * time.Second)
	for !sawCompleted {
		select {
		case ev, ok := <-sub:
			if !ok {
				t.Fatal("subscription closed before a Completed event arrived")
			}
			if ev.Kind == PoolEventCompleted {
				sawCompleted = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for Completed event")
		}
	}

	if _, err := p.Join(context.Background(), id); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

func TestSpawn_ResolvesToolInheritanceFormula(t *testing.T) {
	p := New(1)
	seen := make(chan []string, 1)
	id, err := p.Spawn(context.Background(), SpawnConfig{
		InheritTools:  []string{"search", "shell", "browser"},
		ExcludeTools:  []string{"shell"},
		ExplicitTools: []string{"calculator"},
		Run: func(ctx context.Context, t *atomic.Uint32, la *atomic.Int64, emit func(PoolEvent), tools []string) (*convo.Conversation, string, error) {
			seen <- tools
			return convo.Empty(), "", nil
		},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	want := []string{"search", "browser", "calculator"}
	select {
	case got := <-seen:
		if !equalStrings(got, want) {
			t.Fatalf("Run received tools %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("Run was never invoked")
	}

	if _, err := p.Join(context.Background(), id); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

func TestStatus_ReportsResolvedTools(t *testing.T) {
	p := New(1)
	block := make(chan struct{})
	id, err := p.Spawn(context.Background(), SpawnConfig{
		InheritTools:  []string{"search", "shell"},
		ExcludeTools:  []string{"shell"},
		ExplicitTools: []string{"calculator"},
		Run: func(ctx context.Context, t *atomic.Uint32, la *atomic.Int64, emit func(PoolEvent), tools []string) (*convo.Conversation, string, error) {
			<-block
			return convo.Empty(), "", nil
		},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	snap, ok := p.Status(id)
	if !ok {
		t.Fatal("expected instance to be present")
	}
	want := []string{"search", "calculator"}
	if !equalStrings(snap.Tools, want) {
		t.Fatalf("InstanceSnapshot.Tools = %v, want %v", snap.Tools, want)
	}
	close(block)
	_, _ = p.Join(context.Background(), id)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCollectFinished_ReapsCompletedInstances(t *testing.T) {
	p := New(2)
	id, _ := p.Spawn(context.Background(), SpawnConfig{Run: runFunc("ok", 0, nil)})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := p.Status(id); ok {
			snap, _ := p.Status(id)
			if snap.Status != StatusRunning {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("instance never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}

	results := p.CollectFinished(context.Background())
	if len(results) != 1 {
		t.Fatalf("expected 1 finished result, got %d", len(results))
	}
	if len(p.CompletedResults()) != 1 {
		t.Errorf("expected CompletedResults to retain the reaped result")
	}
}

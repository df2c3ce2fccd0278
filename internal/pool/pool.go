// Package pool manages concurrent agent instances: spawn, status, cancel,
// and join, decoupled from whatever caller wants parallel agents (an
// orchestrator sub-task, an HTTP route, a scheduled fan-out).
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentrt/core/internal/agentcore"
	"github.com/agentrt/core/internal/toolregistry"
	"github.com/agentrt/core/pkg/convo"
)

// InstanceStatus is the lifecycle state of a pool instance.
type InstanceStatus string

const (
	StatusRunning   InstanceStatus = "running"
	StatusCompleted InstanceStatus = "completed"
	StatusFailed    InstanceStatus = "failed"
	StatusCancelled InstanceStatus = "cancelled"
)

// PoolEventKind discriminates PoolEvent's payload.
type PoolEventKind string

const (
	PoolEventMessage      PoolEventKind = "message"
	PoolEventTurnComplete PoolEventKind = "turn_complete"
	PoolEventCompleted    PoolEventKind = "completed"
	PoolEventFailed       PoolEventKind = "failed"
	PoolEventCancelled    PoolEventKind = "cancelled"
)

// PoolEvent is broadcast to every subscriber of an instance.
type PoolEvent struct {
	Kind  PoolEventKind
	Text  string
	Turn  int
	Error string
}

// SpawnConfig describes a new agent instance to run.
type SpawnConfig struct {
	Persona      string
	Instructions string
	Prompt       string
	Provider     string
	Model        string

	// InheritTools names tools to carry over from a shared registry.
	InheritTools []string
	// ExcludeTools names inherited tools to drop.
	ExcludeTools []string
	// ExplicitTools are added regardless of inheritance.
	ExplicitTools []string

	MaxTurns int

	// Run drives the instance to completion: build a session, call
	// agentcore.Loop.Reply, and return the final conversation and a
	// best-effort text summary. The pool supplies only lifecycle
	// bookkeeping (turns/activity counters, cancellation, broadcast) plus
	// the resolved tool set (inherited \ excluded) ∪ explicit computed from
	// InheritTools/ExcludeTools/ExplicitTools; the caller supplies how an
	// instance actually runs and decides what to do with that tool set,
	// since that requires a concrete provider/session-store/tool-registry
	// wiring the pool itself has no opinion about.
	Run func(ctx context.Context, turns *atomic.Uint32, lastActivity *atomic.Int64, emit func(PoolEvent), tools []string) (*convo.Conversation, string, error)
}

// resolvedTools computes (inherited \ excluded) ∪ explicit, the extension
// (here: tool) inheritance formula the spec names for a spawned instance.
func resolvedTools(cfg SpawnConfig) []string {
	excluded := make(map[string]bool, len(cfg.ExcludeTools))
	for _, name := range cfg.ExcludeTools {
		excluded[name] = true
	}
	out := make([]string, 0, len(cfg.InheritTools)+len(cfg.ExplicitTools))
	for _, name := range cfg.InheritTools {
		if !excluded[name] {
			out = append(out, name)
		}
	}
	out = append(out, cfg.ExplicitTools...)
	return out
}

// AgentResult is the outcome of a joined instance.
type AgentResult struct {
	ID          string
	Persona     string
	Provider    string
	Model       string
	Status      InstanceStatus
	Output      string
	Error       string
	TurnsTaken  uint32
	Duration    time.Duration
}

// InstanceSnapshot is a read-only view of a running or recently finished
// instance's state.
type InstanceSnapshot struct {
	ID            string
	Persona       string
	Provider      string
	Model         string
	Status        InstanceStatus
	Turns         uint32
	Elapsed       time.Duration
	LastActivityMS int64
	// Tools is the resolved (inherited \ excluded) ∪ explicit tool set this
	// instance was spawned with.
	Tools []string
}

// instance is the pool's internal bookkeeping for one spawned agent.
type instance struct {
	id           string
	persona      string
	provider     string
	model        string
	tools        []string
	startedAt    time.Time
	turns        atomic.Uint32
	lastActivity atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
	result AgentResult

	mu   sync.Mutex
	subs []chan PoolEvent
}

func (inst *instance) finished() bool {
	select {
	case <-inst.done:
		return true
	default:
		return false
	}
}

func (inst *instance) broadcast(ev PoolEvent) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	for _, ch := range inst.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (inst *instance) subscribe() <-chan PoolEvent {
	ch := make(chan PoolEvent, 32)
	inst.mu.Lock()
	inst.subs = append(inst.subs, ch)
	inst.mu.Unlock()
	return ch
}

func (inst *instance) closeSubs() {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	for _, ch := range inst.subs {
		close(ch)
	}
	inst.subs = nil
}

// ErrAtCapacity is returned by Spawn when the pool already holds
// MaxInstances running instances.
type ErrAtCapacity struct {
	Running, Max int
}

func (e *ErrAtCapacity) Error() string {
	return fmt.Sprintf("pool: at capacity (%d/%d); wait for an instance to complete or cancel one", e.Running, e.Max)
}

// ErrNotFound is returned by Status/Cancel/Join for an unknown instance id.
type ErrNotFound struct{ ID string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("pool: instance %q not found", e.ID) }

// Pool manages concurrently running agent instances under a configured
// capacity.
type Pool struct {
	mu           sync.Mutex
	instances    map[string]*instance
	results      []AgentResult
	maxInstances int
	nextID       atomic.Uint64
}

// New builds a Pool that allows at most maxInstances concurrently running
// agents.
func New(maxInstances int) *Pool {
	return &Pool{instances: make(map[string]*instance), maxInstances: maxInstances}
}

// RunningCount reports the number of currently running instances.
func (p *Pool) RunningCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instances)
}

// Spawn starts a new agent instance and returns its id. It fails with
// *ErrAtCapacity if the pool is already at its configured maximum.
func (p *Pool) Spawn(ctx context.Context, cfg SpawnConfig) (string, error) {
	if cfg.Run == nil {
		return "", fmt.Errorf("pool: SpawnConfig.Run is required")
	}

	p.mu.Lock()
	if len(p.instances) >= p.maxInstances {
		running := len(p.instances)
		p.mu.Unlock()
		return "", &ErrAtCapacity{Running: running, Max: p.maxInstances}
	}
	id := fmt.Sprintf("pool-%d", p.nextID.Add(1))
	runCtx, cancel := context.WithCancel(ctx)
	inst := &instance{
		id:        id,
		persona:   cfg.Persona,
		provider:  cfg.Provider,
		model:     cfg.Model,
		tools:     resolvedTools(cfg),
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	inst.lastActivity.Store(time.Now().UnixMilli())
	p.instances[id] = inst
	p.mu.Unlock()

	go p.runInstance(runCtx, inst, cfg)

	return id, nil
}

func (p *Pool) runInstance(ctx context.Context, inst *instance, cfg SpawnConfig) {
	defer close(inst.done)

	emit := func(ev PoolEvent) { inst.broadcast(ev) }

	conv, output, err := cfg.Run(ctx, &inst.turns, &inst.lastActivity, emit, inst.tools)

	switch {
	case err != nil && ctx.Err() != nil:
		inst.result = AgentResult{Status: StatusCancelled, Error: err.Error()}
		emit(PoolEvent{Kind: PoolEventCancelled})
	case err != nil:
		inst.result = AgentResult{Status: StatusFailed, Error: err.Error()}
		emit(PoolEvent{Kind: PoolEventFailed, Error: err.Error()})
	default:
		_ = conv
		inst.result = AgentResult{Status: StatusCompleted, Output: output}
		emit(PoolEvent{Kind: PoolEventCompleted, Text: output})
	}
	inst.closeSubs()
}

// Status returns a snapshot of one instance, or false if id is unknown.
func (p *Pool) Status(id string) (InstanceSnapshot, bool) {
	p.mu.Lock()
	inst, ok := p.instances[id]
	p.mu.Unlock()
	if !ok {
		return InstanceSnapshot{}, false
	}
	return snapshotOf(inst), true
}

// StatusAll returns snapshots of every tracked instance.
func (p *Pool) StatusAll() []InstanceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]InstanceSnapshot, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, snapshotOf(inst))
	}
	return out
}

func snapshotOf(inst *instance) InstanceSnapshot {
	status := StatusRunning
	if inst.finished() {
		status = inst.result.Status
	}
	return InstanceSnapshot{
		ID:             inst.id,
		Persona:        inst.persona,
		Provider:       inst.provider,
		Model:          inst.model,
		Status:         status,
		Turns:          inst.turns.Load(),
		Elapsed:        time.Since(inst.startedAt),
		LastActivityMS: inst.lastActivity.Load(),
		Tools:          inst.tools,
	}
}

// Subscribe returns a channel of PoolEvent for the named instance. The
// channel is closed once the instance finishes. Returns false if id is
// unknown.
func (p *Pool) Subscribe(id string) (<-chan PoolEvent, bool) {
	p.mu.Lock()
	inst, ok := p.instances[id]
	p.mu.Unlock()
	if !ok {
		return nil, false
	}
	return inst.subscribe(), true
}

// Cancel fires the cancellation signal for one instance.
func (p *Pool) Cancel(id string) error {
	p.mu.Lock()
	inst, ok := p.instances[id]
	p.mu.Unlock()
	if !ok {
		return &ErrNotFound{ID: id}
	}
	inst.cancel()
	return nil
}

// CancelAll fires the cancellation signal for every running instance.
func (p *Pool) CancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, inst := range p.instances {
		inst.cancel()
	}
}

// Join blocks until the named instance finishes, removes it from the
// pool, and returns its result.
func (p *Pool) Join(ctx context.Context, id string) (AgentResult, error) {
	p.mu.Lock()
	inst, ok := p.instances[id]
	p.mu.Unlock()
	if !ok {
		return AgentResult{}, &ErrNotFound{ID: id}
	}

	select {
	case <-inst.done:
	case <-ctx.Done():
		return AgentResult{}, ctx.Err()
	}

	p.mu.Lock()
	delete(p.instances, id)
	p.mu.Unlock()

	result := inst.result
	result.ID = inst.id
	result.Persona = inst.persona
	result.Provider = inst.provider
	result.Model = inst.model
	result.TurnsTaken = inst.turns.Load()
	result.Duration = time.Since(inst.startedAt)

	p.mu.Lock()
	p.results = append(p.results, result)
	p.mu.Unlock()

	return result, nil
}

// CollectFinished reaps every instance that has finished without
// blocking, removing them from the pool and returning their results.
func (p *Pool) CollectFinished(ctx context.Context) []AgentResult {
	p.mu.Lock()
	var finishedIDs []string
	for id, inst := range p.instances {
		if inst.finished() {
			finishedIDs = append(finishedIDs, id)
		}
	}
	p.mu.Unlock()

	results := make([]AgentResult, 0, len(finishedIDs))
	for _, id := range finishedIDs {
		if r, err := p.Join(ctx, id); err == nil {
			results = append(results, r)
		}
	}
	return results
}

// CompletedResults returns every historical result joined so far.
func (p *Pool) CompletedResults() []AgentResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]AgentResult(nil), p.results...)
}

// ReplyRunner adapts an agentcore.Loop into a SpawnConfig.Run function:
// it drives one Reply call for prompt against a freshly-created session
// and forwards AgentEvents as PoolEvents. When the pool hands back a
// non-empty resolved tool set and loop's registry is a *toolregistry.Registry,
// the reply runs against a registry narrowed to exactly that set via
// Registry.Subset, so InheritTools/ExcludeTools/ExplicitTools on the
// SpawnConfig actually change what the spawned instance can call; loops
// backed by any other Registry implementation, or spawns with no tool
// fields set, run against loop's registry unchanged.
func ReplyRunner(loop *agentcore.Loop, sessionID string, prompt string) func(context.Context, *atomic.Uint32, *atomic.Int64, func(PoolEvent), []string) (*convo.Conversation, string, error) {
	return func(ctx context.Context, turns *atomic.Uint32, lastActivity *atomic.Int64, emit func(PoolEvent), tools []string) (*convo.Conversation, string, error) {
		runLoop := loop
		if len(tools) > 0 {
			if base, ok := loop.Registry().(*toolregistry.Registry); ok {
				runLoop = loop.WithRegistry(base.Subset(tools))
			}
		}
		events, err := runLoop.Reply(ctx, sessionID, convo.NewUserMessage(prompt))
		if err != nil {
			return nil, "", err
		}

		var lastText string
		for ev := range events {
			lastActivity.Store(time.Now().UnixMilli())
			switch ev.Type {
			case agentcore.EventMessage:
				text := ev.Message.Text()
				if text != "" {
					lastText = text
					emit(PoolEvent{Kind: PoolEventMessage, Text: text})
				}
			case agentcore.EventTurnComplete:
				turns.Add(1)
				emit(PoolEvent{Kind: PoolEventTurnComplete, Turn: ev.Turn})
			case agentcore.EventError:
				if ev.Fatal {
					return nil, lastText, fmt.Errorf("pool: instance reply failed: %w", ev.Err)
				}
			}
		}

		return nil, lastText, nil
	}
}

package agentcore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentrt/core/internal/providers"
	"github.com/agentrt/core/internal/retry"
	"github.com/agentrt/core/pkg/convo"
)

// truncationNotice is the fixed text of the assistant message synthesized
// when a turn exceeds its session's MaxTurns.
const truncationNotice = "I've reached the maximum number of turns allowed for this message and have to stop here. Feel free to continue in a follow-up message."

// eventBufferSize sizes the channel Reply returns; the caller is expected
// to drain it promptly rather than the loop blocking on a full channel.
const eventBufferSize = 64

// defaultMaxTokens is used when a session carries no explicit override.
const defaultMaxTokens = 4096

// Loop drives one session's reply algorithm: push, filter, fix, build
// request, stream-or-complete, handle frames (including the nested tool
// call sub-loop), and stop on settle or turn-budget exhaustion.
type Loop struct {
	provider providers.Provider
	registry Registry
	store    SessionStore
	naming   NamingProvider
	retry    retry.Config
}

// New builds a Loop. naming may be nil, in which case the naming
// auto-update step is skipped.
func New(provider providers.Provider, registry Registry, store SessionStore, naming NamingProvider) *Loop {
	return &Loop{
		provider: provider,
		registry: registry,
		store:    store,
		naming:   naming,
		retry:    retry.DefaultConfig(),
	}
}

// Registry returns the tool registry l dispatches calls through.
func (l *Loop) Registry() Registry { return l.registry }

// WithRegistry returns a shallow copy of l scoped to a different tool
// registry — provider, store, naming, and retry config are shared with l.
// Used to narrow a shared Loop to one spawned instance's resolved tool set
// without rebuilding the rest of its wiring.
func (l *Loop) WithRegistry(registry Registry) *Loop {
	cp := *l
	cp.registry = registry
	return &cp
}

// pendingToolCall accumulates one tool call's streamed argument fragments,
// keyed by the provider's call id — the streaming wire format delivers a
// tool call's name up front and its JSON arguments in pieces across
// several frames.
type pendingToolCall struct {
	name string
	args strings.Builder
}

// Reply drives the reply loop for one user message and returns a channel
// of AgentEvent. The channel is closed when the turn settles, the turn
// budget is exhausted, or ctx is cancelled — in the cancellation case
// without a final TurnComplete, so a consumer can tell the two apart.
func (l *Loop) Reply(ctx context.Context, sessionID string, userMsg convo.Message) (<-chan AgentEvent, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}
	if l.store == nil {
		return nil, ErrNoStore
	}

	session, err := l.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("agentcore: load session %q: %w", sessionID, err)
	}

	events := make(chan AgentEvent, eventBufferSize)
	seq := &sequencer{}

	go func() {
		defer close(events)
		l.runTurn(ctx, session, userMsg, events, seq)
	}()

	return events, nil
}

// runTurn implements algorithm steps 1 and 6-7: push/persist the inbound
// message once, then repeat round trips (steps 2-5) until the provider
// settles, cancellation fires, or the turn budget is exhausted.
func (l *Loop) runTurn(ctx context.Context, session *Session, userMsg convo.Message, events chan<- AgentEvent, seq *sequencer) {
	session.Conversation.Push(userMsg)
	if err := l.store.AppendMessage(ctx, session.ID, userMsg); err != nil {
		l.emitError(ctx, events, seq, PhaseInit, 0, err, true)
		return
	}

	cfg := session.Config
	if cfg.MaxTurns <= 0 {
		cfg = DefaultSessionConfig()
	}

	for turn := 1; ; turn++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if turn > cfg.MaxTurns {
			notice := convo.NewAssistantMessage(truncationNotice)
			session.Conversation.Push(notice)
			_ = l.store.AppendMessage(ctx, session.ID, notice)
			l.emit(ctx, events, seq, AgentEvent{Type: EventMessage, Message: notice})
			l.emit(ctx, events, seq, AgentEvent{Type: EventTurnComplete, Turn: turn})
			return
		}

		settled, err := l.runOneRoundTrip(ctx, session, turn, events, seq)
		if err != nil {
			phase, cause := PhaseStream, err
			if le, ok := err.(*LoopError); ok {
				phase, cause = le.Phase, le.Cause
			}
			l.emitError(ctx, events, seq, phase, turn, cause, true)
			return
		}
		if settled {
			l.emit(ctx, events, seq, AgentEvent{Type: EventTurnComplete, Turn: turn})
			l.maybeUpdateName(ctx, session)
			return
		}
		// A tool round fed results back into the conversation; loop back
		// to step 3 (build request) with the extended history.
	}
}

// runOneRoundTrip performs steps 2-5 for a single provider round trip. It
// returns settled=true when the round's final assistant message carries no
// pending tool call.
func (l *Loop) runOneRoundTrip(ctx context.Context, session *Session, turn int, events chan<- AgentEvent, seq *sequencer) (bool, error) {
	// Step 2: filter to agent-visible, run fix_messages; the issue list is
	// logged by the caller of FixMessages in production builds, never
	// surfaced to the event stream.
	visible := session.Conversation.AgentVisibleMessages()
	fixed := convo.FixMessages(visible)

	// Step 3: build the request.
	req := providers.CompletionRequest{
		SystemPrompt: session.SystemPrompt,
		Messages:     fixed.Messages,
		MaxTokens:    defaultMaxTokens,
	}
	if l.registry != nil {
		for _, spec := range l.registry.Specs() {
			req.Tools = append(req.Tools, providers.ToolSpec{
				Name:        spec.Name,
				Description: spec.Description,
				Schema:      []byte(spec.Schema),
			})
		}
	}

	// Step 4: prefer streaming when the provider and session both support it.
	var assistantMsg convo.Message
	var usage convo.Usage
	var err error

	if session.Config.EnableStreaming && l.provider.SupportsStreaming(session.Model) {
		assistantMsg, usage, err = l.runStreamed(ctx, session, req, events)
	} else {
		assistantMsg, usage, err = l.runComplete(ctx, session, req)
	}
	if err != nil {
		return false, &LoopError{Phase: PhaseStream, Turn: turn, Cause: err}
	}

	session.TotalUsage = session.TotalUsage.Add(usage)
	session.Conversation.Push(assistantMsg)
	if err := l.store.AppendMessage(ctx, session.ID, assistantMsg); err != nil {
		return false, &LoopError{Phase: PhaseStream, Turn: turn, Cause: err}
	}
	l.emit(ctx, events, seq, AgentEvent{Type: EventMessage, Message: assistantMsg})

	if !assistantMsg.HasToolRequest() {
		return true, nil
	}

	// Step 5b: invoke every requested tool and append one user-role
	// message (per §4.1's ToolResponse content-block convention) carrying
	// all of this round's results.
	toolMsg, err := l.invokeToolRequests(ctx, assistantMsg)
	if err != nil {
		return false, &LoopError{Phase: PhaseToolCall, Turn: turn, Cause: err}
	}
	session.Conversation.Push(toolMsg)
	if err := l.store.AppendMessage(ctx, session.ID, toolMsg); err != nil {
		return false, &LoopError{Phase: PhaseToolCall, Turn: turn, Cause: err}
	}

	return false, nil
}

// runComplete performs the non-streaming path: a single retried call
// wrapped as a one-frame stream.
func (l *Loop) runComplete(ctx context.Context, session *Session, req providers.CompletionRequest) (convo.Message, convo.Usage, error) {
	result, res := retry.DoWithValue(ctx, l.retry, func() (providers.CompletionResult, error) {
		r, err := l.provider.CompleteWithModel(ctx, session.Model, req)
		return r, permanentIfNotRetryable(err)
	})
	if res.Err != nil {
		return convo.Message{}, convo.Usage{}, res.Err
	}
	return result.Message, result.Usage, nil
}

// runStreamed performs the streaming path. Only connection establishment
// retries; once frames are being delivered, a mid-stream failure
// terminates the round trip rather than silently re-issuing a call whose
// earlier frames may already have been emitted to the caller.
func (l *Loop) runStreamed(ctx context.Context, session *Session, req providers.CompletionRequest, events chan<- AgentEvent) (convo.Message, convo.Usage, error) {
	stream, res := retry.DoWithValue(ctx, l.retry, func() (<-chan providers.StreamEvent, error) {
		s, err := l.provider.Stream(ctx, session.Model, req)
		return s, permanentIfNotRetryable(err)
	})
	if res.Err != nil {
		return convo.Message{}, convo.Usage{}, res.Err
	}

	var text strings.Builder
	pending := map[string]*pendingToolCall{}
	order := make([]string, 0, 4)
	var usage convo.Usage

	for ev := range stream {
		if ev.TextDelta != "" {
			text.WriteString(ev.TextDelta)
			delta := convo.NewAssistantMessage(ev.TextDelta)
			l.emit(ctx, events, nil, AgentEvent{Type: EventMessage, Message: delta})
		}
		if ev.ToolCallID != "" {
			call, ok := pending[ev.ToolCallID]
			if !ok {
				call = &pendingToolCall{}
				pending[ev.ToolCallID] = call
				order = append(order, ev.ToolCallID)
			}
			if ev.ToolCallName != "" {
				call.name = ev.ToolCallName
			}
			call.args.WriteString(ev.ToolCallArgsFrag)
		}
		if ev.Usage != nil {
			usage = usage.Add(*ev.Usage)
		}
		if ev.Done {
			break
		}
	}

	content := make([]convo.ContentBlock, 0, 1+len(order))
	if text.Len() > 0 {
		content = append(content, convo.Text{Text: text.String()})
	}
	for _, id := range order {
		call := pending[id]
		content = append(content, convo.ToolRequest{
			ID:        id,
			ToolName:  call.name,
			Arguments: []byte(call.args.String()),
		})
	}

	msg := convo.Message{
		Role:     convo.RoleAssistant,
		Created:  time.Now().UTC(),
		Content:  content,
		Metadata: convo.DefaultMetadata(),
	}
	return msg, usage, nil
}

// invokeToolRequests runs every ToolRequest block in assistantMsg through
// the tool registry and assembles their ToolResponse blocks into a single
// user-role message, per step 5b.
func (l *Loop) invokeToolRequests(ctx context.Context, assistantMsg convo.Message) (convo.Message, error) {
	var responses []convo.ContentBlock
	for _, block := range assistantMsg.Content {
		req, ok := block.(convo.ToolRequest)
		if !ok {
			continue
		}
		var resp convo.ToolResponse
		if l.registry == nil {
			resp = convo.ToolResponse{
				ID:      req.ID,
				Content: []convo.ContentBlock{convo.Text{Text: "no tool registry configured"}},
				IsError: true,
			}
		} else {
			resp = l.registry.Call(ctx, req.ID, req.ToolName, req.Arguments)
		}
		responses = append(responses, resp)
	}

	return convo.Message{
		Role:     convo.RoleUser,
		Created:  time.Now().UTC(),
		Content:  responses,
		Metadata: convo.DefaultMetadata(),
	}, nil
}

// maybeUpdateName asks the provider for a short session name once, early
// in the conversation's life, if the user hasn't already named it
// themselves.
func (l *Loop) maybeUpdateName(ctx context.Context, session *Session) {
	if l.naming == nil || session.NameIsUserSet {
		return
	}
	if userMessageCount(session.Conversation) > maxUserMessagesForAutoName {
		return
	}
	name, err := l.naming.SuggestName(ctx, session.Conversation)
	if err != nil || strings.TrimSpace(name) == "" {
		return
	}
	session.Name = name
	_ = l.store.Update(ctx, session)
}

func userMessageCount(conv *convo.Conversation) int {
	n := 0
	for _, m := range conv.Messages() {
		if m.Role == convo.RoleUser && !m.HasOnlyToolResponses() {
			n++
		}
	}
	return n
}

// permanentIfNotRetryable wraps err with retry.Permanent when it carries a
// providers.Error classification that says not to retry, so retry.Do stops
// immediately instead of burning through MaxAttempts on a request that can
// never succeed (e.g. authentication, context-length-exceeded).
func permanentIfNotRetryable(err error) error {
	if err == nil {
		return nil
	}
	if !providers.IsRetryable(err) {
		return retry.Permanent(err)
	}
	return err
}

func (l *Loop) emit(ctx context.Context, events chan<- AgentEvent, seq *sequencer, e AgentEvent) {
	if seq != nil {
		e.Sequence = seq.next()
	}
	select {
	case events <- e:
	case <-ctx.Done():
	}
}

func (l *Loop) emitError(ctx context.Context, events chan<- AgentEvent, seq *sequencer, phase LoopPhase, turn int, cause error, fatal bool) {
	l.emit(ctx, events, seq, AgentEvent{
		Type:      EventError,
		ErrorKind: string(phase),
		Turn:      turn,
		Err:       cause,
		Fatal:     fatal,
	})
}

// Package agentcore implements the per-turn reply loop: the state machine
// that turns one user message into a stream of AgentEvents by driving a
// provider, accumulating streamed tool calls, invoking the tool registry,
// and looping until the model settles or the turn budget runs out.
package agentcore

import (
	"context"
	"sync/atomic"

	"github.com/agentrt/core/pkg/convo"
)

// EventType discriminates AgentEvent's payload, the way convo.ContentBlock's
// Kind() discriminates a content block's wire type.
type EventType string

const (
	EventMessage         EventType = "message"
	EventHistoryReplaced EventType = "history_replaced"
	EventTurnComplete    EventType = "turn_complete"
	EventError           EventType = "error"
)

// AgentEvent is one frame of a reply-loop event stream. Only the fields
// matching Type are populated.
type AgentEvent struct {
	Type     EventType
	Sequence uint64

	// EventMessage
	Message convo.Message

	// EventHistoryReplaced
	Conversation *convo.Conversation

	// EventTurnComplete
	Turn int

	// EventError
	ErrorKind string
	Err       error
	Fatal     bool
}

// EventSink receives reply-loop events. Implementations must be safe to
// call from multiple goroutines and must not block the loop indefinitely —
// an HTTP SSE handler, a pool instance's broadcast, or a scheduler run all
// drain the same shape of channel.
type EventSink interface {
	Emit(ctx context.Context, e AgentEvent)
}

// ChanSink delivers events to a buffered channel, dropping events rather
// than blocking the loop when the channel is full.
type ChanSink struct {
	ch chan<- AgentEvent
}

// NewChanSink builds a sink over ch. ch should be buffered.
func NewChanSink(ch chan<- AgentEvent) *ChanSink {
	return &ChanSink{ch: ch}
}

func (s *ChanSink) Emit(ctx context.Context, e AgentEvent) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	default:
	}
}

// MultiSink fans one event out to several sinks, e.g. a pool's broadcast
// plus a persistence-side audit sink.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink builds a sink that forwards to every sink in sinks.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (s *MultiSink) Emit(ctx context.Context, e AgentEvent) {
	for _, sink := range s.sinks {
		if sink != nil {
			sink.Emit(ctx, e)
		}
	}
}

// sequencer hands out monotonically increasing event sequence numbers for
// one reply-loop run.
type sequencer struct {
	n uint64
}

func (s *sequencer) next() uint64 {
	return atomic.AddUint64(&s.n, 1)
}

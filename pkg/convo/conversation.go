package convo

// Conversation is an ordered, append-mostly list of messages with
// coalescing on push: a Text block pushed onto a message of the same role
// as the tail is merged into the tail rather than starting a new turn.
type Conversation struct {
	messages []Message
}

// New builds a Conversation from msgs without normalization. Callers that
// need the invariants in FixMessages enforced should call Fix afterward.
func New(msgs ...Message) *Conversation {
	return &Conversation{messages: append([]Message(nil), msgs...)}
}

// Empty returns a conversation with no messages.
func Empty() *Conversation { return &Conversation{} }

// Messages returns the underlying message slice. Callers must not mutate
// the returned slice in place; use Push/Extend/Truncate instead.
func (c *Conversation) Messages() []Message { return c.messages }

// Len reports the number of messages.
func (c *Conversation) Len() int { return len(c.messages) }

// IsEmpty reports whether the conversation carries no messages.
func (c *Conversation) IsEmpty() bool { return len(c.messages) == 0 }

// Last returns the final message, if any.
func (c *Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// First returns the first message, if any.
func (c *Conversation) First() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[0], true
}

// Push appends msg, coalescing consecutive Text-only messages of the same
// role into a single message rather than growing the turn count.
func (c *Conversation) Push(msg Message) {
	if last, ok := c.Last(); ok && last.Role == msg.Role &&
		isPlainText(last) && isPlainText(msg) {
		merged := last
		merged.Content = append(append([]ContentBlock(nil), last.Content...), msg.Content...)
		c.messages[len(c.messages)-1] = merged
		return
	}
	c.messages = append(c.messages, msg)
}

func isPlainText(m Message) bool {
	for _, b := range m.Content {
		if _, ok := b.(Text); !ok {
			return false
		}
	}
	return true
}

// Extend appends msgs without coalescing.
func (c *Conversation) Extend(msgs ...Message) {
	c.messages = append(c.messages, msgs...)
}

// Pop removes and returns the final message.
func (c *Conversation) Pop() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	m := c.messages[len(c.messages)-1]
	c.messages = c.messages[:len(c.messages)-1]
	return m, true
}

// Truncate keeps only the first n messages.
func (c *Conversation) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(c.messages) {
		c.messages = c.messages[:n]
	}
}

// Clear removes all messages.
func (c *Conversation) Clear() { c.messages = nil }

// FilteredMessages returns messages for which keep returns true, with
// per-message content blocks also filtered by blockKeep when non-nil.
func (c *Conversation) FilteredMessages(keep func(Message) bool) []Message {
	var out []Message
	for _, m := range c.messages {
		if keep == nil || keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// AgentVisibleMessages returns the subset of messages (with content
// blocks unfiltered) flagged agent-visible.
func (c *Conversation) AgentVisibleMessages() []Message {
	return c.FilteredMessages(func(m Message) bool { return m.Metadata.AgentVisible })
}

// UserVisibleMessages returns the subset of messages flagged
// user-visible.
func (c *Conversation) UserVisibleMessages() []Message {
	return c.FilteredMessages(func(m Message) bool { return m.Metadata.UserVisible })
}

// Validate reports whether the conversation satisfies the structural
// invariants FixMessages enforces, without modifying anything.
func (c *Conversation) Validate() []string {
	return checkMessages(c.messages)
}

// Clone returns a deep-enough copy safe to mutate independently (content
// block slices are copied; block values themselves are immutable).
func (c *Conversation) Clone() *Conversation {
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		m.Content = append([]ContentBlock(nil), m.Content...)
		out[i] = m
	}
	return &Conversation{messages: out}
}

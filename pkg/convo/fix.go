package convo

// PlaceholderUserMessage is substituted for a conversation that would
// otherwise be left with zero messages after normalization.
const PlaceholderUserMessage = "Hello"

// FixResult reports what FixMessages changed, as a flat, human-readable
// issue log in the order the stages ran.
type FixResult struct {
	Messages []Message
	Issues   []string
}

// FixConversation normalizes c in place and returns the issue log.
// Applying FixMessages twice in a row produces no further issues: the
// pipeline is idempotent.
func (c *Conversation) FixConversation() []string {
	res := FixMessages(c.messages)
	c.messages = res.Messages
	return res.Issues
}

// FixMessages runs the five-stage normalization pipeline over msgs and
// returns the repaired list alongside a log of every repair made:
//
//  1. remove empty messages
//  2. strip tool-calling content that violates role placement, and drop
//     orphaned tool requests/responses that have no matching partner
//  3. merge consecutive messages that share an effective role
//  4. drop a leading or trailing assistant message (a turn must begin and
//     end on the user side once 1-3 have run)
//  5. substitute a placeholder user message if nothing survived
//
// The result always satisfies checkMessages (role alternation by
// effective role, no orphaned tool content, non-empty).
func FixMessages(msgs []Message) FixResult {
	var issues []string

	msgs, issues = removeEmptyMessages(msgs, issues)
	msgs, issues = fixToolCalling(msgs, issues)
	msgs, issues = mergeConsecutiveMessages(msgs, issues)
	msgs, issues = fixLeadTrail(msgs, issues)
	msgs, issues = populateIfEmpty(msgs, issues)

	return FixResult{Messages: msgs, Issues: issues}
}

func removeEmptyMessages(msgs []Message, issues []string) ([]Message, []string) {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsEmpty() {
			issues = append(issues, "Removed empty message")
			continue
		}
		out = append(out, m)
	}
	return out, issues
}

// fixToolCalling enforces that tool-calling content only appears on the
// role it belongs to (ToolRequest/FrontendToolRequest/Thinking on
// assistant messages, ToolResponse/ToolConfirmationRequest on user
// messages), and removes tool requests/responses left without a matching
// partner in the correct order: a ToolRequest needs a ToolResponse with the
// same id somewhere after it, and a ToolResponse needs a ToolRequest with
// the same id somewhere before it. Same-id existence anywhere in the
// conversation, irrespective of order, is not enough — a response block
// that was reordered ahead of its request is still an orphan.
func fixToolCalling(msgs []Message, issues []string) ([]Message, []string) {
	// requestPos/responsePos record each id's first occurrence as a
	// position in a single forward-increasing index over every content
	// block in msgs, so the filtering pass below can compare positions
	// instead of mere presence.
	requestPos := map[string]int{}
	responsePos := map[string]int{}
	pos := 0
	for _, m := range msgs {
		for _, c := range m.Content {
			switch v := c.(type) {
			case ToolRequest:
				if _, ok := requestPos[v.ID]; !ok {
					requestPos[v.ID] = pos
				}
			case ToolResponse:
				if _, ok := responsePos[v.ID]; !ok {
					responsePos[v.ID] = pos
				}
			}
			pos++
		}
	}

	out := make([]Message, 0, len(msgs))
	pos = 0
	for _, m := range msgs {
		var kept []ContentBlock
		for _, c := range m.Content {
			p := pos
			pos++
			switch v := c.(type) {
			case ToolRequest:
				if m.Role != RoleAssistant {
					issues = append(issues, "Removed orphaned tool request '"+v.ID+"'")
					continue
				}
				if rp, ok := responsePos[v.ID]; !ok || rp <= p {
					issues = append(issues, "Removed orphaned tool request '"+v.ID+"'")
					continue
				}
			case ToolResponse:
				if m.Role != RoleUser {
					issues = append(issues, "Removed tool response '"+v.ID+"' from assistant message")
					continue
				}
				if rp, ok := requestPos[v.ID]; !ok || rp >= p {
					issues = append(issues, "Removed orphaned tool response '"+v.ID+"'")
					continue
				}
			case ToolConfirmationRequest:
				if m.Role != RoleUser {
					issues = append(issues, "Removed tool confirmation request '"+v.ID+"' from user message")
					continue
				}
			case FrontendToolRequest:
				if m.Role != RoleAssistant {
					issues = append(issues, "Removed frontend tool request '"+v.ID+"' from assistant message")
					continue
				}
			case Thinking, RedactedThinking:
				if m.Role != RoleAssistant {
					issues = append(issues, "Removed thinking content from user message")
					continue
				}
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			issues = append(issues, "Removed empty message")
			continue
		}
		m.Content = kept
		out = append(out, m)
	}
	return out, issues
}

func mergeConsecutiveMessages(msgs []Message, issues []string) ([]Message, []string) {
	if len(msgs) == 0 {
		return msgs, issues
	}
	out := make([]Message, 0, len(msgs))
	out = append(out, msgs[0])
	for _, m := range msgs[1:] {
		tail := &out[len(out)-1]
		if tail.EffectiveRole() == m.EffectiveRole() {
			tail.Content = append(tail.Content, m.Content...)
			issues = append(issues, "Merged consecutive "+tail.EffectiveRole()+" messages")
			continue
		}
		out = append(out, m)
	}
	return out, issues
}

func fixLeadTrail(msgs []Message, issues []string) ([]Message, []string) {
	for len(msgs) > 0 && msgs[0].Role == RoleAssistant {
		msgs = msgs[1:]
		issues = append(issues, "Removed leading assistant message")
	}
	for len(msgs) > 0 && msgs[len(msgs)-1].Role == RoleAssistant {
		msgs = msgs[:len(msgs)-1]
		issues = append(issues, "Removed trailing assistant message")
	}
	return msgs, issues
}

func populateIfEmpty(msgs []Message, issues []string) ([]Message, []string) {
	if len(msgs) > 0 {
		return msgs, issues
	}
	issues = append(issues, "Added placeholder user message to empty conversation")
	return []Message{NewUserMessage(PlaceholderUserMessage)}, issues
}

// checkMessages reports structural problems FixMessages would have
// repaired, without repairing them — used by Conversation.Validate.
func checkMessages(msgs []Message) []string {
	var problems []string
	if len(msgs) == 0 {
		return []string{"conversation is empty"}
	}
	if msgs[0].Role == RoleAssistant {
		problems = append(problems, "conversation begins with an assistant message")
	}
	if msgs[len(msgs)-1].Role == RoleAssistant {
		problems = append(problems, "conversation ends with an assistant message")
	}
	requestIDs := map[string]bool{}
	responseIDs := map[string]bool{}
	for _, m := range msgs {
		for _, c := range m.Content {
			switch v := c.(type) {
			case ToolRequest:
				requestIDs[v.ID] = true
			case ToolResponse:
				responseIDs[v.ID] = true
			}
		}
	}
	for id := range requestIDs {
		if !responseIDs[id] {
			problems = append(problems, "tool request '"+id+"' has no matching response")
		}
	}
	for id := range responseIDs {
		if !requestIDs[id] {
			problems = append(problems, "tool response '"+id+"' has no matching request")
		}
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i-1].EffectiveRole() == msgs[i].EffectiveRole() {
			problems = append(problems, "consecutive messages share an effective role")
			break
		}
	}
	return problems
}

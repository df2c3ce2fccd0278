package convo

import "testing"

func toolReq(id, name string) ToolRequest {
	return ToolRequest{ID: id, ToolName: name, Arguments: []byte(`{}`)}
}

func toolResp(id string) ToolResponse {
	return ToolResponse{ID: id, Content: []ContentBlock{Text{Text: "ok"}}}
}

func TestFixMessages_ValidConversationUnchanged(t *testing.T) {
	msgs := []Message{
		NewUserMessage("hi"),
		NewAssistantMessage("hello"),
	}
	res := FixMessages(msgs)
	if len(res.Issues) != 0 {
		t.Errorf("expected no issues for a valid conversation, got %v", res.Issues)
	}
	if len(res.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(res.Messages))
	}
}

func TestFixMessages_RoleAlternationAndContentPlacement(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: []ContentBlock{Text{Text: "hi"}, toolReq("1", "x")}, Metadata: DefaultMetadata()},
		{Role: RoleAssistant, Content: []ContentBlock{toolResp("1")}, Metadata: DefaultMetadata()},
	}
	res := FixMessages(msgs)
	for _, m := range res.Messages {
		if m.HasToolRequest() && m.Role != RoleAssistant {
			t.Errorf("tool request survived on a non-assistant message")
		}
		if m.HasToolResponse() && m.Role != RoleUser {
			t.Errorf("tool response survived on a non-user message")
		}
	}
}

func TestFixMessages_OrphanedToolsAndEmptyMessages(t *testing.T) {
	msgs := []Message{
		NewUserMessage("hi"),
		{Role: RoleAssistant, Content: []ContentBlock{toolReq("orphan", "x")}, Metadata: DefaultMetadata()},
		{Role: RoleUser, Content: nil, Metadata: DefaultMetadata()},
	}
	res := FixMessages(msgs)
	found := false
	for _, issue := range res.Issues {
		if issue == "Removed orphaned tool request 'orphan'" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected orphaned tool request removal issue, got %v", res.Issues)
	}
	for _, m := range res.Messages {
		if m.IsEmpty() {
			t.Errorf("empty message survived fix")
		}
	}
}

func TestFixMessages_ReorderedToolPairTreatedAsOrphaned(t *testing.T) {
	// The response's id ("1") is present in the conversation, but its
	// ToolResponse block appears before the matching ToolRequest block —
	// existence alone would let both survive; position must not.
	msgs := []Message{
		{Role: RoleUser, Content: []ContentBlock{toolResp("1")}, Metadata: DefaultMetadata()},
		{Role: RoleAssistant, Content: []ContentBlock{toolReq("1", "x")}, Metadata: DefaultMetadata()},
	}
	res := FixMessages(msgs)

	wantIssues := map[string]bool{
		"Removed orphaned tool response '1'": false,
		"Removed orphaned tool request '1'":  false,
	}
	for _, issue := range res.Issues {
		if _, ok := wantIssues[issue]; ok {
			wantIssues[issue] = true
		}
	}
	for issue, seen := range wantIssues {
		if !seen {
			t.Errorf("expected issue %q, got %v", issue, res.Issues)
		}
	}

	for _, m := range res.Messages {
		if m.HasToolRequest() || m.HasToolResponse() {
			t.Errorf("expected the reordered tool pair to be fully removed, found one in %+v", m)
		}
	}
}

func TestFixMessages_ConsecutiveAssistantMessagesMerge(t *testing.T) {
	msgs := []Message{
		NewUserMessage("hi"),
		NewAssistantMessage("part one"),
		NewAssistantMessage("part two"),
	}
	res := FixMessages(msgs)
	if len(res.Messages) != 2 {
		t.Fatalf("expected merge down to 2 messages, got %d", len(res.Messages))
	}
	if res.Messages[1].Text() != "part one\npart two" {
		t.Errorf("expected merged text, got %q", res.Messages[1].Text())
	}
}

func TestMessage_ToolResponseEffectiveRole(t *testing.T) {
	m := Message{Role: RoleUser, Content: []ContentBlock{toolResp("1")}, Metadata: DefaultMetadata()}
	if m.EffectiveRole() != "tool" {
		t.Errorf("expected effective role 'tool', got %q", m.EffectiveRole())
	}
	plain := NewUserMessage("hi")
	if plain.EffectiveRole() != "user" {
		t.Errorf("expected effective role 'user', got %q", plain.EffectiveRole())
	}
}

func TestFixMessages_MixedVisibilityPreserved(t *testing.T) {
	hidden := NewUserMessage("secret")
	hidden.Metadata = Metadata{AgentVisible: true, UserVisible: false}
	msgs := []Message{hidden, NewAssistantMessage("reply")}
	res := FixMessages(msgs)
	c := New(res.Messages...)
	for _, m := range c.UserVisibleMessages() {
		if m.Text() == "secret" {
			t.Errorf("user-hidden message leaked into user-visible view")
		}
	}
}

func TestFixMessages_EmptyConversationGetsPlaceholder(t *testing.T) {
	res := FixMessages(nil)
	if len(res.Messages) != 1 || res.Messages[0].Text() != PlaceholderUserMessage {
		t.Fatalf("expected single placeholder message, got %+v", res.Messages)
	}
}

func TestFixMessages_LeadingAndTrailingAssistantTrimmed(t *testing.T) {
	msgs := []Message{
		NewAssistantMessage("leading"),
		NewUserMessage("hi"),
		NewAssistantMessage("trailing"),
	}
	res := FixMessages(msgs)
	if res.Messages[0].Role != RoleUser {
		t.Errorf("expected leading assistant message trimmed")
	}
	if res.Messages[len(res.Messages)-1].Role != RoleUser {
		t.Errorf("expected trailing assistant message trimmed")
	}
}

func TestFixMessages_Idempotent(t *testing.T) {
	msgs := []Message{
		NewAssistantMessage("leading"),
		{Role: RoleAssistant, Content: []ContentBlock{toolReq("orphan", "x")}, Metadata: DefaultMetadata()},
		NewUserMessage("hi"),
	}
	first := FixMessages(msgs)
	second := FixMessages(first.Messages)
	if len(second.Issues) != 0 {
		t.Errorf("expected fixing an already-fixed conversation to be a no-op, got issues %v", second.Issues)
	}
}

func TestConversation_PushCoalescesText(t *testing.T) {
	c := Empty()
	c.Push(NewUserMessage("a"))
	c.Push(NewUserMessage("b"))
	if c.Len() != 1 {
		t.Fatalf("expected coalesced push to produce 1 message, got %d", c.Len())
	}
	if c.messages[0].Text() != "a\nb" {
		t.Errorf("expected coalesced text, got %q", c.messages[0].Text())
	}
}

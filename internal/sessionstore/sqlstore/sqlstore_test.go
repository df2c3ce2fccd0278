package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/agentrt/core/internal/sessionstore"
	"github.com/agentrt/core/pkg/convo"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSession(id string) *sessionstore.Session {
	now := time.Now().UTC()
	return &sessionstore.Session{
		ID:           id,
		Name:         "test session",
		SessionType:  sessionstore.TypeUser,
		CreatedAt:    now,
		UpdatedAt:    now,
		ProviderName: "anthropic",
	}
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := testSession("20260730_1")
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, msgs, err := s.GetSession(ctx, sess.ID, true)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil || got.Name != "test session" || got.ProviderName != "anthropic" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}

func TestGetSession_Missing(t *testing.T) {
	s := newTestStore(t)
	got, _, err := s.GetSession(context.Background(), "missing", false)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil session, got %+v", got)
	}
}

func TestAddMessageAndReplaceConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession("20260730_2")
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := s.AddMessage(ctx, sess.ID, convo.NewUserMessage("hello")); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if err := s.AddMessage(ctx, sess.ID, convo.NewAssistantMessage("hi there")); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	_, msgs, err := s.GetSession(ctx, sess.ID, true)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text() != "hello" || msgs[1].Text() != "hi there" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	replacement := convo.New(convo.NewUserMessage("replaced"))
	if err := s.ReplaceConversation(ctx, sess.ID, replacement); err != nil {
		t.Fatalf("ReplaceConversation: %v", err)
	}
	_, msgs, err = s.GetSession(ctx, sess.ID, true)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text() != "replaced" {
		t.Fatalf("unexpected messages after replace: %+v", msgs)
	}
}

func TestTruncateConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession("20260730_3")
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	old := convo.NewUserMessage("keep me")
	old.Created = time.Now().UTC().Add(-time.Hour)
	cutoff := time.Now().UTC().Add(-30 * time.Minute)
	fresh := convo.NewUserMessage("drop me")
	fresh.Created = time.Now().UTC()

	if err := s.AddMessage(ctx, sess.ID, old); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if err := s.AddMessage(ctx, sess.ID, fresh); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	if err := s.TruncateConversation(ctx, sess.ID, cutoff); err != nil {
		t.Fatalf("TruncateConversation: %v", err)
	}

	_, msgs, err := s.GetSession(ctx, sess.ID, true)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text() != "keep me" {
		t.Fatalf("unexpected messages after truncate: %+v", msgs)
	}
}

func TestApplyUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession("20260730_4")
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	newName := "renamed"
	userSet := true
	if err := s.ApplyUpdate(ctx, sess.ID, sessionstore.SessionUpdate{Name: &newName, UserSetName: &userSet}); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	got, _, err := s.GetSession(ctx, sess.ID, false)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Name != "renamed" || !got.UserSetName {
		t.Fatalf("update did not apply: %+v", got)
	}
}

func TestDeleteSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession("20260730_5")
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.AddMessage(ctx, sess.ID, convo.NewUserMessage("x")); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	got, _, err := s.GetSession(ctx, sess.ID, false)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Fatalf("expected session to be gone, got %+v", got)
	}
}

func TestListSessionsByTypes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := testSession("20260730_6")
	user.SessionType = sessionstore.TypeUser
	scheduled := testSession("20260730_7")
	scheduled.SessionType = sessionstore.TypeScheduled
	scheduled.UpdatedAt = user.UpdatedAt.Add(time.Minute)

	if err := s.CreateSession(ctx, user); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.CreateSession(ctx, scheduled); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.ListSessionsByTypes(ctx, sessionstore.ListOptions{Types: []sessionstore.SessionType{sessionstore.TypeScheduled}})
	if err != nil {
		t.Fatalf("ListSessionsByTypes: %v", err)
	}
	if len(got) != 1 || got[0].ID != scheduled.ID {
		t.Fatalf("unexpected filtered list: %+v", got)
	}
}

func TestMessageMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession("20260730_8")
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, ok, err := s.GetMessageMetadata(ctx, sess.ID, "m1", "reaction"); err != nil || ok {
		t.Fatalf("expected no metadata yet, got ok=%v err=%v", ok, err)
	}
	if err := s.SetMessageMetadata(ctx, sess.ID, "m1", "reaction", "thumbs_up"); err != nil {
		t.Fatalf("SetMessageMetadata: %v", err)
	}
	value, ok, err := s.GetMessageMetadata(ctx, sess.ID, "m1", "reaction")
	if err != nil || !ok || value != "thumbs_up" {
		t.Fatalf("unexpected metadata: value=%q ok=%v err=%v", value, ok, err)
	}

	if err := s.SetMessageMetadata(ctx, sess.ID, "m1", "reaction", "thumbs_down"); err != nil {
		t.Fatalf("SetMessageMetadata (update): %v", err)
	}
	value, _, _ = s.GetMessageMetadata(ctx, sess.ID, "m1", "reaction")
	if value != "thumbs_down" {
		t.Fatalf("expected upsert to overwrite, got %q", value)
	}
}

func TestGetInsightsAndHealthCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateSession(ctx, testSession("20260730_9")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	insights, err := s.GetInsights(ctx)
	if err != nil {
		t.Fatalf("GetInsights: %v", err)
	}
	if insights.TotalSessions != 1 {
		t.Fatalf("expected 1 session, got %d", insights.TotalSessions)
	}
	if err := s.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestSearchChatHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession("20260730_10")
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.AddMessage(ctx, sess.ID, convo.NewUserMessage("please remember to water the plants")); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	matches, err := s.SearchChatHistory(ctx, "water the plants", sessionstore.SearchOptions{})
	if err != nil {
		t.Fatalf("SearchChatHistory: %v", err)
	}
	if len(matches) != 1 || matches[0].SessionID != sess.ID {
		t.Fatalf("unexpected search matches: %+v", matches)
	}
}

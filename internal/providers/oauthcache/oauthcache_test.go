package oauthcache

import (
	"testing"
	"time"
)

func TestLoadSaveClear_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if tok, err := Load("anthropic"); err != nil || tok != nil {
		t.Fatalf("expected no cached token before Save, got %v, err %v", tok, err)
	}

	want := &Token{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour)}
	if err := Save("anthropic", want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load("anthropic")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
		t.Fatalf("Load roundtrip mismatch: got %+v, want %+v", got, want)
	}

	if err := Clear("anthropic"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if tok, err := Load("anthropic"); err != nil || tok != nil {
		t.Fatalf("expected no cached token after Clear, got %v, err %v", tok, err)
	}

	// Clearing an already-empty cache is not an error.
	if err := Clear("anthropic"); err != nil {
		t.Fatalf("Clear on empty cache: %v", err)
	}
}

func TestToken_Expired(t *testing.T) {
	var nilTok *Token
	if !nilTok.expired(refreshSkew) {
		t.Fatal("nil token should report expired")
	}

	fresh := &Token{ExpiresAt: time.Now().Add(time.Hour)}
	if fresh.expired(refreshSkew) {
		t.Fatal("token expiring in an hour should not be expired under a 60s skew")
	}

	soon := &Token{ExpiresAt: time.Now().Add(30 * time.Second)}
	if !soon.expired(refreshSkew) {
		t.Fatal("token expiring in 30s should be treated as expired under a 60s skew")
	}
}

package providers

import (
	"errors"
	"testing"
	"time"
)

func TestErrorKind_Retryable(t *testing.T) {
	cases := map[ErrorKind]bool{
		KindAuthentication:        false,
		KindUsageError:            false,
		KindRateLimitExceeded:     true,
		KindContextLengthExceeded: false,
		KindServerError:           true,
		KindRequestFailed:         false,
		KindExecutionError:        false,
	}
	for kind, want := range cases {
		if got := kind.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", kind, got, want)
		}
	}
}

func TestNew_ClassifiesFromMessage(t *testing.T) {
	err := New("anthropic", "", errors.New("received 429 too many requests"))
	if err.Kind != KindRateLimitExceeded {
		t.Errorf("expected rate-limit classification, got %s", err.Kind)
	}
	if !IsRetryable(err) {
		t.Errorf("expected rate-limit error to be retryable")
	}
}

func TestError_RetryDelayHint(t *testing.T) {
	d := 5 * time.Second
	err := &Error{Kind: KindRateLimitExceeded, RetryAfter: &d}
	got, ok := err.RetryDelay()
	if !ok || got != d {
		t.Errorf("expected retry delay hint %v, got %v (ok=%v)", d, got, ok)
	}
}

func TestAllocateCachePoints_RespectsMax(t *testing.T) {
	points := AllocateCachePoints(true, 10, 4)
	if len(points) != 3 {
		t.Fatalf("expected 3 message cache points after reserving one for the system prompt, got %d", len(points))
	}
	// most recent messages first
	if points[0] != 9 {
		t.Errorf("expected most recent message index first, got %d", points[0])
	}
}

func TestAllocateCachePoints_NoSystemPrompt(t *testing.T) {
	points := AllocateCachePoints(false, 2, 4)
	if len(points) != 2 {
		t.Errorf("expected all messages covered when fewer than max, got %d", len(points))
	}
}

package drive

import (
	"errors"
	"testing"
)

func TestWithRetrySucceedsAfterRetryableErrors(t *testing.T) {
	attempts := 0
	err := WithRetry(func() error {
		attempts++
		if attempts < 3 {
			return &SenseError{Key: UnitAttention, Text: "busy"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("got %d attempts, want 3", attempts)
	}
}

func TestWithRetryReturnsNonRetryableSenseImmediately(t *testing.T) {
	attempts := 0
	wantErr := &SenseError{Key: IllegalRequest, Text: "bad command"}
	err := WithRetry(func() error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, error(wantErr)) && err != wantErr {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
	if attempts != 1 {
		t.Fatalf("got %d attempts, want 1 (non-retryable sense key)", attempts)
	}
}

func TestWithRetryReturnsNonSenseErrorImmediately(t *testing.T) {
	attempts := 0
	wantErr := errors.New("boom")
	err := WithRetry(func() error {
		attempts++
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
	if attempts != 1 {
		t.Fatalf("got %d attempts, want 1", attempts)
	}
}

func TestSenseErrorRetryable(t *testing.T) {
	cases := []struct {
		key  SenseKey
		want bool
	}{
		{NoSense, true},
		{RecoveredError, true},
		{UnitAttention, true},
		{NotReady, true},
		{MediumError, false},
		{IllegalRequest, false},
	}
	for _, c := range cases {
		e := &SenseError{Key: c.key}
		if got := e.Retryable(); got != c.want {
			t.Errorf("SenseKey(%v).Retryable() = %v, want %v", c.key, got, c.want)
		}
	}
}

package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	kit "subgate/internal/transport"
)

func TestCallReturnsResult(t *testing.T) {
	t.Parallel()
	got, err := call(context.Background(), func() (int, error) { return 42, nil })
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}

	want := errors.New("boom")
	if _, err := call(context.Background(), func() (int, error) { return 0, want }); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestCallHonorsDeadline(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	block := make(chan struct{})
	defer close(block)

	start := time.Now()
	_, err := call(ctx, func() (int, error) {
		<-block
		return 0, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("call blocked for %v despite expired context", elapsed)
	}
}

func TestRecipientFor(t *testing.T) {
	t.Parallel()
	if got := recipientFor(kit.ChatTarget{Username: "@chan"}).Recipient(); got != "@chan" {
		t.Fatalf("username target = %q, want @chan", got)
	}
	if got := recipientFor(kit.ChatTarget{ChatID: -100123}).Recipient(); got != "-100123" {
		t.Fatalf("id target = %q, want -100123", got)
	}
}

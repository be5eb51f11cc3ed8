package notify

import (
	"context"
	"errors"
	"testing"
)

func TestDeliverRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Deliver(context.Background(), 2, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDeliverGivesUpAfterRetryLimit(t *testing.T) {
	calls := 0
	err := Deliver(context.Background(), 1, func() error {
		calls++
		return errors.New("down")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestDeliverStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_ = Deliver(ctx, 5, func() error {
		calls++
		return errors.New("down")
	})
	if calls > 1 {
		t.Fatalf("expected at most one attempt after cancel, got %d", calls)
	}
}

package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStatusTerminal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		st       Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusCompleted, true},
		{StatusCancelled, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.st.Terminal(); got != tt.terminal {
			t.Fatalf("%s.Terminal() = %v, want %v", tt.st, got, tt.terminal)
		}
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()
	st, err := ParseStatus(" Pending ")
	if err != nil || st != StatusPending {
		t.Fatalf("ParseStatus = %q, %v", st, err)
	}
	if _, err := ParseStatus("done"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestRateLimitedErrorRoundsUp(t *testing.T) {
	t.Parallel()
	err := error(&RateLimitedError{Kind: "image", RetryAfter: 1500 * time.Millisecond})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatal("RateLimitedError does not unwrap to ErrRateLimited")
	}
	var rl *RateLimitedError
	if !errors.As(err, &rl) || rl.RetryAfterSeconds() != 2 {
		t.Fatalf("RetryAfterSeconds = %d, want 2", rl.RetryAfterSeconds())
	}
	if (&RateLimitedError{}).RetryAfterSeconds() != 1 {
		t.Fatal("RetryAfterSeconds must be at least 1")
	}
}

func TestDeliverTimeoutIsDeliveryError(t *testing.T) {
	t.Parallel()
	hang := DeliverFunc(func(context.Context, DeliveryRequest) (DeliveryOutcome, error) {
		time.Sleep(time.Second)
		return DeliveryOutcome{}, nil
	})
	_, err := Deliver(context.Background(), hang, 20*time.Millisecond, DeliveryRequest{Target: Target{ChannelID: "1"}})
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("err = %v, want ErrDelivery", err)
	}
}

func TestDeliverWrapsFailure(t *testing.T) {
	t.Parallel()
	fail := DeliverFunc(func(context.Context, DeliveryRequest) (DeliveryOutcome, error) {
		return DeliveryOutcome{}, errors.New("chat not found")
	})
	_, err := Deliver(context.Background(), fail, time.Second, DeliveryRequest{Target: Target{ChannelID: "1"}})
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("err = %v, want ErrDelivery", err)
	}
	if _, err := Deliver(context.Background(), fail, time.Second, DeliveryRequest{}); !errors.Is(err, ErrDelivery) {
		t.Fatalf("missing target err = %v", err)
	}
}

func TestTargetString(t *testing.T) {
	t.Parallel()
	got := Target{ChannelID: "-100123", ThreadID: 7, Name: "general"}.String()
	if got != "general (-100123/7)" {
		t.Fatalf("String() = %q", got)
	}
}

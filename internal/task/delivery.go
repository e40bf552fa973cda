package task

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DeliveryKind selects what a delivery sends.
type DeliveryKind string

const (
	DeliverText  DeliveryKind = "text"
	DeliverImage DeliveryKind = "image"
)

type DeliveryRequest struct {
	Kind     DeliveryKind
	Target   Target
	Text     string
	ImageURL string
}

type DeliveryOutcome struct {
	MessageID string
	At        time.Time
}

// Deliverer performs the side effect of a firing. Scheduled events, recurring
// jobs and manual triggers all go through the same implementation.
type Deliverer interface {
	Deliver(ctx context.Context, req DeliveryRequest) (DeliveryOutcome, error)
}

// DeliverFunc adapts a function to Deliverer.
type DeliverFunc func(ctx context.Context, req DeliveryRequest) (DeliveryOutcome, error)

func (f DeliverFunc) Deliver(ctx context.Context, req DeliveryRequest) (DeliveryOutcome, error) {
	return f(ctx, req)
}

// Deliver calls d with a bounded timeout. Every failure, including the
// deadline, comes back wrapped in ErrDelivery.
func Deliver(ctx context.Context, d Deliverer, timeout time.Duration, req DeliveryRequest) (DeliveryOutcome, error) {
	if d == nil {
		return DeliveryOutcome{}, fmt.Errorf("%w: no deliverer configured", ErrDelivery)
	}
	if strings.TrimSpace(req.Target.ChannelID) == "" {
		return DeliveryOutcome{}, fmt.Errorf("%w: target required", ErrDelivery)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	type result struct {
		out DeliveryOutcome
		err error
	}
	// Deliverers that ignore ctx still can't hold the caller past the deadline.
	done := make(chan result, 1)
	go func() {
		out, err := d.Deliver(ctx, req)
		done <- result{out: out, err: err}
	}()

	var out DeliveryOutcome
	var err error
	select {
	case r := <-done:
		out, err = r.out, r.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return out, nil
}

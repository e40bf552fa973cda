// Package delivery implements task.Deliverer over the chat transport.
package delivery

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"taskbot/internal/task"
	"taskbot/internal/transport"
	logx "taskbot/pkg/logx"
)

// Chat delivers through a transport.Sender.
type Chat struct {
	sender    transport.Sender
	parseMode string
	now       func() time.Time
}

func NewChat(sender transport.Sender, parseMode string) *Chat {
	return &Chat{sender: sender, parseMode: parseMode, now: time.Now}
}

func (c *Chat) Deliver(ctx context.Context, req task.DeliveryRequest) (task.DeliveryOutcome, error) {
	to := transport.ChatTarget{Recipient: req.Target.ChannelID, ThreadID: req.Target.ThreadID}
	opt := &transport.SendOptions{ParseMode: c.parseMode}

	var ref transport.MessageRef
	var err error
	switch req.Kind {
	case task.DeliverImage:
		ref, err = c.sender.SendPhoto(ctx, to, transport.Photo{URL: req.ImageURL, Caption: req.Text}, opt)
	case task.DeliverText, "":
		ref, err = c.sender.SendText(ctx, to, req.Text, opt)
	default:
		return task.DeliveryOutcome{}, fmt.Errorf("unsupported delivery kind %q", req.Kind)
	}
	if err != nil {
		return task.DeliveryOutcome{}, err
	}
	return task.DeliveryOutcome{MessageID: strconv.Itoa(ref.MessageID), At: c.now().UTC()}, nil
}

// Log only logs what would be sent. It is used when no bot token is set.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log.With(logx.String("comp", "delivery.log"))}
}

func (l *Log) Deliver(ctx context.Context, req task.DeliveryRequest) (task.DeliveryOutcome, error) {
	if err := ctx.Err(); err != nil {
		return task.DeliveryOutcome{}, err
	}
	l.log.Info("dry-run delivery",
		logx.String("kind", string(req.Kind)),
		logx.String("target", req.Target.String()),
		logx.String("text", req.Text),
		logx.String("image_url", req.ImageURL),
	)
	return task.DeliveryOutcome{MessageID: "dry-run", At: time.Now().UTC()}, nil
}

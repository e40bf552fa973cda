package transport

import "context"

// ChatTarget addresses a chat. Recipient is a numeric chat id ("-100…",
// "12345") or a public @username.
type ChatTarget struct {
	Recipient string
	ThreadID  int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Photo is an image sent by URL; the platform fetches it.
type Photo struct {
	URL     string
	Caption string
}

// Sender is the outbound half of a chat adapter. The bot never reads
// updates; every platform call is a send.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, photo Photo, opt *SendOptions) (MessageRef, error)
}

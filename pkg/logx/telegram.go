package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TextSender is the outbound side the Telegram sink writes through.
type TextSender interface {
	SendLog(ctx context.Context, chatID string, threadID int, text string) error
}

const (
	telegramQueue   = 256
	telegramMaxText = 3500
	telegramMaxAttr = 600
)

type telegramLine struct {
	chatID   string
	threadID int
	text     string
}

// telegramSink is a zerolog.LevelWriter. Writes are filtered and rate
// limited inline, then handed to one goroutine; a full queue drops lines.
type telegramSink struct {
	mu       sync.Mutex
	sender   TextSender
	chatID   string
	threadID int
	min      zerolog.Level
	limiter  *rate.Limiter

	queue   chan telegramLine
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newTelegramSink(sender TextSender) *telegramSink {
	return &telegramSink{sender: sender, min: LevelWarn, queue: make(chan telegramLine, telegramQueue)}
}

func (t *telegramSink) setSender(sender TextSender) {
	t.mu.Lock()
	t.sender = sender
	t.mu.Unlock()
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chatID = strings.TrimSpace(cfg.ChatID)
	t.threadID = cfg.ThreadID
	t.min = parseLevel(cfg.MinLevel, LevelWarn)
	rps := max(1, cfg.RatePerSec)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.Enabled && !t.started {
		ctx, cancel := context.WithCancel(context.Background())
		t.started, t.cancel, t.done = true, cancel, make(chan struct{})
		go t.run(ctx)
	}
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *telegramSink) run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-t.queue:
			t.mu.Lock()
			sender := t.sender
			t.mu.Unlock()
			if sender != nil {
				sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
				_ = sender.SendLog(sctx, line.chatID, line.threadID, line.text)
				cancel()
			}
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) { return t.WriteLevel(LevelInfo, p) }

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	ok := t.sender != nil && t.chatID != "" && level >= t.min && t.limiter != nil && t.limiter.Allow()
	line := telegramLine{chatID: t.chatID, threadID: t.threadID}
	t.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if line.text = renderTelegram(p); line.text == "" {
		return len(p), nil
	}
	select {
	case t.queue <- line:
	default:
	}
	return len(p), nil
}

// renderTelegram turns a zerolog JSON line into "[LEVEL] msg" followed by
// sorted key=value lines. Non-JSON input is sent trimmed.
func renderTelegram(p []byte) string {
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return clip(strings.TrimSpace(string(p)), telegramMaxText)
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(rec[k]), telegramMaxAttr))
	}
	return clip(b.String(), telegramMaxText)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

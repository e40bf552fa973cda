package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	kit "taskbot/internal/transport"
	logx "taskbot/pkg/logx"
)

type Config struct {
	Token string
	// MaxPerSecond caps outgoing API calls. Telegram allows about 30/s per bot.
	MaxPerSecond float64
	// Offline skips the getMe handshake; used by tests and dry runs.
	Offline bool
	// APIURL overrides the Bot API endpoint.
	APIURL string
}

// Adapter is a send-only Telegram client.
type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter

	sent   uint64
	failed uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.MaxPerSecond <= 0 {
		cfg.MaxPerSecond = 25
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: cfg.Offline,
		// no poller: updates are never consumed
		Synchronous: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	burst := int(cfg.MaxPerSecond)
	if burst < 1 {
		burst = 1
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "telegram.adapter")),
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), burst),
	}
	if !cfg.Offline && b.Me != nil {
		a.log.Info("telegram bot ready", logx.String("username", b.Me.Username))
	}
	return a, nil
}

// Stats returns sent and failed API call counts.
func (a *Adapter) Stats() (sent, failed uint64) {
	return atomic.LoadUint64(&a.sent), atomic.LoadUint64(&a.failed)
}

type username string

func (u username) Recipient() string { return string(u) }

// ParseRecipient accepts a numeric chat id or an @username.
func ParseRecipient(raw string) (tele.Recipient, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.New("empty recipient")
	}
	if strings.HasPrefix(s, "@") {
		if len(s) < 2 || strings.ContainsAny(s, " \t\n/") {
			return nil, fmt.Errorf("invalid username %q", raw)
		}
		return username(s), nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return nil, fmt.Errorf("invalid chat id %q", raw)
	}
	return tele.ChatID(id), nil
}

const telegramTextLimit = 4000

// captionLimit is the Bot API limit for photo captions.
const captionLimit = 1024

// splitTelegramText splits long messages into chunks Telegram accepts.
// It prefers newline boundaries and, for HTML parse mode, avoids cutting
// inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			// last newline in the window, unless it leaves a tiny chunk
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, tele.ModeHTML) && end < len(rs) {
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start+1 {
				end = open
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt != nil {
		so.ParseMode = opt.ParseMode
		so.DisableWebPagePreview = opt.DisablePreview
	}
	return so
}

// send waits for the limiter, then performs one API call.
func (a *Adapter) send(ctx context.Context, to tele.Recipient, what any, so *tele.SendOptions) (*tele.Message, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	msg, err := a.bot.Send(to, what, so)
	if err != nil {
		atomic.AddUint64(&a.failed, 1)
		return nil, err
	}
	atomic.AddUint64(&a.sent, 1)
	return msg, nil
}

// SendText sends text, split across several messages when it is long.
// The returned ref is the first message.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	rec, err := ParseRecipient(to.Recipient)
	if err != nil {
		return kit.MessageRef{}, err
	}
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, parseMode) {
		msg, err := a.send(ctx, rec, chunk, a.sendOptions(to, opt))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = refOf(msg, to.ThreadID)
		}
	}
	return first, nil
}

// SendPhoto posts an image by URL. Captions over the API limit are cut.
func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, photo kit.Photo, opt *kit.SendOptions) (kit.MessageRef, error) {
	rec, err := ParseRecipient(to.Recipient)
	if err != nil {
		return kit.MessageRef{}, err
	}
	if strings.TrimSpace(photo.URL) == "" {
		return kit.MessageRef{}, errors.New("photo url is empty")
	}
	caption := photo.Caption
	if rs := []rune(caption); len(rs) > captionLimit {
		caption = string(rs[:captionLimit])
	}
	msg, err := a.send(ctx, rec, &tele.Photo{File: tele.FromURL(photo.URL), Caption: caption}, a.sendOptions(to, opt))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return refOf(msg, to.ThreadID), nil
}

// SendLog implements logx.TextSender for the Telegram log sink.
func (a *Adapter) SendLog(ctx context.Context, chatID string, threadID int, text string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := a.SendText(ctx, kit.ChatTarget{Recipient: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func refOf(m *tele.Message, threadID int) kit.MessageRef {
	if m == nil {
		return kit.MessageRef{ThreadID: threadID}
	}
	ref := kit.MessageRef{ThreadID: threadID, MessageID: m.ID}
	if m.Chat != nil {
		ref.ChatID = m.Chat.ID
	}
	return ref
}

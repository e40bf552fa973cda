// Package trigger runs operator-initiated deliveries under per-kind rate
// limits.
package trigger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"taskbot/internal/eventbus"
	"taskbot/internal/storage"
	"taskbot/internal/task"
	logx "taskbot/pkg/logx"
)

// Kind is a manual trigger kind.
type Kind string

const (
	KindImage Kind = "image"
	KindDM    Kind = "dm"
)

func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindImage, KindDM:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown trigger kind %q", task.ErrInvalidPayload, raw)
}

func (k Kind) auditType() string {
	if k == KindImage {
		return task.AuditManualImagePost
	}
	return task.AuditManualDM
}

func (k Kind) taskType() task.Type {
	if k == KindImage {
		return task.TypeImagePost
	}
	return task.TypeRandomDM
}

// Limit allows Max calls per Window.
type Limit struct {
	Max    int
	Window time.Duration
}

type Config struct {
	Limits          map[Kind]Limit
	DeliveryTimeout time.Duration
}

// DefaultConfig allows 10 calls per hour per kind.
func DefaultConfig() Config {
	return Config{
		Limits: map[Kind]Limit{
			KindImage: {Max: 10, Window: time.Hour},
			KindDM:    {Max: 10, Window: time.Hour},
		},
		DeliveryTimeout: 30 * time.Second,
	}
}

// RequestBuilder builds the same delivery the recurring job of a type sends.
type RequestBuilder interface {
	Request(typ task.Type, target *task.Target) (task.DeliveryRequest, error)
}

// Gate enforces the per-kind limits over a rolling window. A refused call
// consumes nothing.
type Gate struct {
	mu   sync.Mutex
	cfg  Config
	seen map[Kind]*window

	builder   RequestBuilder
	deliverer task.Deliverer
	store     storage.Store
	metrics   task.Metrics
	log       logx.Logger
	bus       eventbus.Bus
	now       func() time.Time
}

type Option func(*Gate)

func WithMetrics(m task.Metrics) Option {
	return func(g *Gate) {
		if m != nil {
			g.metrics = m
		}
	}
}

func WithBus(b eventbus.Bus) Option { return func(g *Gate) { g.bus = b } }

// WithNow sets the time source used for limiter math and audit timestamps.
func WithNow(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func New(cfg Config, b RequestBuilder, d task.Deliverer, store storage.Store, log logx.Logger, opts ...Option) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gate{
		builder:   b,
		deliverer: d,
		store:     store,
		metrics:   task.NopMetrics{},
		log:       log.With(logx.String("comp", "trigger")),
		now:       time.Now,
		seen:      map[Kind]*window{},
	}
	for _, o := range opts {
		o(g)
	}
	g.Apply(cfg)
	return g
}

// Apply swaps the limits. Calls already admitted keep counting against the
// new limits until they leave the window.
func (g *Gate) Apply(cfg Config) {
	cfg = withDefaults(cfg)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = cfg
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	out := Config{Limits: map[Kind]Limit{}, DeliveryTimeout: cfg.DeliveryTimeout}
	for k, l := range def.Limits {
		out.Limits[k] = l
	}
	for k, l := range cfg.Limits {
		if l.Max > 0 && l.Window > 0 {
			out.Limits[k] = l
		}
	}
	if out.DeliveryTimeout <= 0 {
		out.DeliveryTimeout = def.DeliveryTimeout
	}
	return out
}

// window is the log of admitted call times of one kind, oldest first.
type window struct {
	at []time.Time
}

// admit drops entries older than l.Window and records now when fewer than
// l.Max remain. Otherwise it returns how long until one slot frees up.
func (w *window) admit(now time.Time, l Limit) (time.Duration, bool) {
	cutoff := now.Add(-l.Window)
	i := 0
	for i < len(w.at) && !w.at[i].After(cutoff) {
		i++
	}
	w.at = w.at[i:]
	if len(w.at) >= l.Max {
		return w.at[len(w.at)-l.Max].Add(l.Window).Sub(now), false
	}
	w.at = append(w.at, now)
	return 0, true
}

// Trigger delivers kind now. target overrides the default destination. The
// audit entry is written whatever the delivery outcome.
func (g *Gate) Trigger(ctx context.Context, kind Kind, target *task.Target) (task.AuditEntry, error) {
	kind, err := ParseKind(string(kind))
	if err != nil {
		return task.AuditEntry{}, err
	}
	req, err := g.builder.Request(kind.taskType(), target)
	if err != nil {
		return task.AuditEntry{}, err
	}
	if err := g.reserve(kind); err != nil {
		return task.AuditEntry{}, err
	}

	g.mu.Lock()
	timeout := g.cfg.DeliveryTimeout
	g.mu.Unlock()

	start := time.Now()
	out, derr := task.Deliver(ctx, g.deliverer, timeout, req)
	took := time.Since(start)

	entry := task.AuditEntry{
		TaskType:   kind.auditType(),
		Status:     task.StatusCompleted,
		ExecutedAt: task.UTC(g.now()),
		Target:     req.Target.String(),
		Metadata:   map[string]string{"kind": string(kind)},
	}
	if req.ImageURL != "" {
		entry.Metadata["image_url"] = req.ImageURL
	}
	if out.MessageID != "" {
		entry.Metadata["message_id"] = out.MessageID
	}
	if derr != nil {
		entry.Status = task.StatusFailed
		entry.ErrorMessage = derr.Error()
	}
	id, aerr := g.store.AppendAudit(context.WithoutCancel(ctx), entry)
	if aerr != nil {
		g.log.Error("audit append failed", logx.String("kind", string(kind)), logx.Err(aerr))
	}
	entry.ID = id
	g.metrics.ObserveExecution(entry.TaskType, entry.Status, took)
	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Type: "trigger." + string(entry.Status), Data: entry})
	}

	if derr != nil {
		g.log.Warn("manual trigger failed", logx.String("kind", string(kind)), logx.String("target", entry.Target), logx.Err(derr))
		return entry, derr
	}
	g.log.Info("manual trigger delivered", logx.String("kind", string(kind)), logx.String("target", entry.Target), logx.Duration("took", took))
	return entry, nil
}

// reserve records one call of kind, or reports how long until the window
// has room again.
func (g *Gate) reserve(kind Kind) error {
	g.mu.Lock()
	l, ok := g.cfg.Limits[kind]
	if !ok {
		g.mu.Unlock()
		return nil
	}
	w := g.seen[kind]
	if w == nil {
		w = &window{}
		g.seen[kind] = w
	}
	wait, admitted := w.admit(g.now(), l)
	g.mu.Unlock()
	if admitted {
		return nil
	}
	g.metrics.ObserveRateLimited(string(kind))
	g.log.Info("manual trigger rate limited", logx.String("kind", string(kind)), logx.Int("max", l.Max), logx.Duration("window", l.Window), logx.Duration("retry_after", wait))
	return &task.RateLimitedError{Kind: string(kind), RetryAfter: wait}
}

// Limits returns the active limits.
func (g *Gate) Limits() map[Kind]Limit {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[Kind]Limit, len(g.cfg.Limits))
	for k, l := range g.cfg.Limits {
		out[k] = l
	}
	return out
}

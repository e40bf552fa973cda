package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbot/internal/storage"
	"taskbot/internal/task"
	logx "taskbot/pkg/logx"
)

type fixedBuilder struct{}

func (fixedBuilder) Request(typ task.Type, target *task.Target) (task.DeliveryRequest, error) {
	to := task.Target{ChannelID: "-100900"}
	if typ == task.TypeRandomDM {
		to = task.Target{ChannelID: "555"}
	}
	if target != nil {
		to = *target
	}
	if typ == task.TypeImagePost {
		return task.DeliveryRequest{Kind: task.DeliverImage, Target: to, ImageURL: "https://img.example/a.png"}, nil
	}
	return task.DeliveryRequest{Kind: task.DeliverText, Target: to, Text: "hi"}, nil
}

type stubDeliverer struct {
	mu   sync.Mutex
	n    int
	err  error
	last task.DeliveryRequest
}

func (s *stubDeliverer) Deliver(_ context.Context, req task.DeliveryRequest) (task.DeliveryOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	s.last = req
	return task.DeliveryOutcome{MessageID: "9"}, s.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newGate(t *testing.T, cfg Config) (*Gate, *stubDeliverer, storage.Store, *clock) {
	t.Helper()
	st := storage.NewMemory()
	d := &stubDeliverer{}
	clk := &clock{t: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	return New(cfg, fixedBuilder{}, d, st, logx.Nop(), WithNow(clk.now)), d, st, clk
}

func TestEleventhImageTriggerIsRateLimited(t *testing.T) {
	t.Parallel()
	g, d, st, _ := newGate(t, Config{Limits: map[Kind]Limit{KindImage: {Max: 10, Window: time.Hour}}})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		entry, err := g.Trigger(ctx, KindImage, nil)
		require.NoError(t, err, "call %d", i+1)
		assert.Equal(t, task.AuditManualImagePost, entry.TaskType)
	}

	_, err := g.Trigger(ctx, KindImage, nil)
	require.ErrorIs(t, err, task.ErrRateLimited)
	var rl *task.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Greater(t, rl.RetryAfterSeconds(), 0)
	assert.Equal(t, 10, d.n, "refused call must not deliver")

	audit, err := st.ListAudit(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, audit, 10)
}

func TestRefusalConsumesNothing(t *testing.T) {
	t.Parallel()
	g, _, _, clk := newGate(t, Config{Limits: map[Kind]Limit{KindDM: {Max: 2, Window: time.Minute}}})
	ctx := context.Background()

	_, err := g.Trigger(ctx, KindDM, nil)
	require.NoError(t, err)
	clk.t = clk.t.Add(20 * time.Second)
	_, err = g.Trigger(ctx, KindDM, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		clk.t = clk.t.Add(5 * time.Second)
		_, err := g.Trigger(ctx, KindDM, nil)
		var rl *task.RateLimitedError
		require.ErrorAs(t, err, &rl)
		// room returns when the first call, 60s old, leaves the window
		assert.Equal(t, 60-20-5*(i+1), rl.RetryAfterSeconds())
	}

	clk.t = clk.t.Add(15 * time.Second)
	_, err = g.Trigger(ctx, KindDM, nil)
	require.NoError(t, err, "refusals must not extend the window")
	_, err = g.Trigger(ctx, KindDM, nil)
	require.ErrorIs(t, err, task.ErrRateLimited)
}

func TestCapHoldsAcrossWindow(t *testing.T) {
	t.Parallel()
	g, d, _, clk := newGate(t, Config{Limits: map[Kind]Limit{KindImage: {Max: 10, Window: time.Hour}}})
	ctx := context.Background()
	start := clk.t

	var admitted []time.Time
	for clk.t.Before(start.Add(time.Hour)) {
		if _, err := g.Trigger(ctx, KindImage, nil); err == nil {
			admitted = append(admitted, clk.t)
		} else {
			require.ErrorIs(t, err, task.ErrRateLimited)
		}
		clk.t = clk.t.Add(90 * time.Second)
	}
	assert.Len(t, admitted, 10)
	assert.Equal(t, 10, d.n)

	// no window of one hour holds more than the cap
	for i := range admitted {
		n := 0
		for _, at := range admitted[i:] {
			if at.Sub(admitted[i]) < time.Hour {
				n++
			}
		}
		assert.LessOrEqual(t, n, 10)
	}

	clk.t = admitted[0].Add(time.Hour)
	_, err := g.Trigger(ctx, KindImage, nil)
	require.NoError(t, err, "first call has left the window")
}

func TestKindsAreIndependent(t *testing.T) {
	t.Parallel()
	g, _, _, _ := newGate(t, Config{Limits: map[Kind]Limit{
		KindImage: {Max: 1, Window: time.Hour},
		KindDM:    {Max: 1, Window: time.Hour},
	}})
	ctx := context.Background()

	_, err := g.Trigger(ctx, KindImage, nil)
	require.NoError(t, err)
	_, err = g.Trigger(ctx, KindImage, nil)
	require.ErrorIs(t, err, task.ErrRateLimited)

	entry, err := g.Trigger(ctx, KindDM, &task.Target{ChannelID: "@bob"})
	require.NoError(t, err)
	assert.Equal(t, task.AuditManualDM, entry.TaskType)
	assert.Equal(t, "@bob", entry.Target)
}

func TestDeliveryFailureIsAudited(t *testing.T) {
	t.Parallel()
	g, d, st, _ := newGate(t, Config{})
	d.err = errors.New("Forbidden: bot was kicked")
	ctx := context.Background()

	entry, err := g.Trigger(ctx, KindDM, nil)
	require.ErrorIs(t, err, task.ErrDelivery)
	assert.Equal(t, task.StatusFailed, entry.Status)
	assert.Contains(t, entry.ErrorMessage, "kicked")

	audit, err := st.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, task.StatusFailed, audit[0].Status)
	assert.Equal(t, "555", audit[0].Target)
}

func TestUnknownKind(t *testing.T) {
	t.Parallel()
	g, _, _, _ := newGate(t, Config{})
	_, err := g.Trigger(context.Background(), Kind("video"), nil)
	assert.ErrorIs(t, err, task.ErrInvalidPayload)
}

func TestApplyChangesLimits(t *testing.T) {
	t.Parallel()
	g, _, _, _ := newGate(t, Config{Limits: map[Kind]Limit{KindImage: {Max: 1, Window: time.Hour}}})
	ctx := context.Background()

	_, err := g.Trigger(ctx, KindImage, nil)
	require.NoError(t, err)
	_, err = g.Trigger(ctx, KindImage, nil)
	require.ErrorIs(t, err, task.ErrRateLimited)

	g.Apply(Config{Limits: map[Kind]Limit{KindImage: {Max: 3, Window: time.Hour}}})
	assert.Equal(t, Limit{Max: 3, Window: time.Hour}, g.Limits()[KindImage])
	_, err = g.Trigger(ctx, KindImage, nil)
	require.NoError(t, err)

	// untouched kinds keep their limit
	assert.Equal(t, DefaultConfig().Limits[KindDM], g.Limits()[KindDM])
}

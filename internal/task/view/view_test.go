package view

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbot/internal/storage"
	"taskbot/internal/task"
)

var t0 = time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

type staticRecurring []task.RecurringJob

func (s staticRecurring) List() []task.RecurringJob { return s }

type countingReconciler struct{ seen []int64 }

func (c *countingReconciler) EnsureArmed(_ context.Context, ev task.Event) task.Event {
	c.seen = append(c.seen, ev.ID)
	return ev
}

func seed(t *testing.T) (storage.Store, map[string]int64) {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()
	ids := map[string]int64{}
	add := func(name string, at time.Time, status task.Status) {
		ev, err := st.CreateEvent(ctx, task.Event{
			Target:        task.Target{ChannelID: "-100500"},
			ScheduledTime: at,
			Message:       name,
			Status:        task.StatusPending,
			CreatedAt:     t0,
		})
		require.NoError(t, err)
		if status != task.StatusPending {
			ev.Status = status
			ev.JobKey = ""
			if status != task.StatusCancelled {
				done := at
				ev.ExecutedAt = &done
			}
			require.NoError(t, st.UpdateEvent(ctx, ev))
		}
		ids[name] = ev.ID
	}
	add("p-late", t0.Add(5*time.Hour), task.StatusPending)
	add("p-early", t0.Add(1*time.Hour), task.StatusPending)
	add("done-old", t0.Add(-5*time.Hour), task.StatusCompleted)
	add("done-new", t0.Add(-1*time.Hour), task.StatusFailed)
	add("cancelled", t0.Add(-3*time.Hour), task.StatusCancelled)
	return st, ids
}

func jobs() staticRecurring {
	return staticRecurring{
		{Name: "random_dm_task", Type: task.TypeRandomDM, Interval: 24 * time.Hour, NextFireTime: t0.Add(3 * time.Hour), Enabled: true, Action: "send a random DM"},
		{Name: "image_post_task", Type: task.TypeImagePost, Interval: 7 * 24 * time.Hour, NextFireTime: t0.Add(time.Hour), Enabled: true},
		{Name: "disabled_job", Type: task.TypeImagePost, Interval: time.Hour, Enabled: false},
	}
}

func names(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		if it.Kind == KindRecurring {
			out[i] = it.JobName
		} else {
			out[i] = it.MessageOrAction
		}
	}
	return out
}

func TestListUnifiedNoFilter(t *testing.T) {
	t.Parallel()
	st, _ := seed(t)
	rec := &countingReconciler{}
	b := NewBuilder(st, jobs(), rec)

	items, err := b.ListUnified(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"p-early", "image_post_task", "random_dm_task", "p-late",
		"done-new", "cancelled", "done-old",
	}, names(items))
	assert.Len(t, rec.seen, 2, "only pending rows are reconciled")

	first := items[0]
	assert.Equal(t, KindOneShot, first.Kind)
	assert.Equal(t, "one-time", first.RecurrenceDescription)
	require.NotNil(t, first.RawID)

	img := items[1]
	assert.True(t, img.IsRecurring)
	assert.Equal(t, "weekly", img.RecurrenceDescription)
	assert.Nil(t, img.RawID)
	assert.Equal(t, task.StatusPending, img.Status)
}

func TestListUnifiedFilters(t *testing.T) {
	t.Parallel()
	st, _ := seed(t)
	b := NewBuilder(st, jobs(), nil)
	ctx := context.Background()

	pending := task.StatusPending
	items, err := b.ListUnified(ctx, &pending, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-early", "image_post_task", "random_dm_task", "p-late"}, names(items))

	completed := task.StatusCompleted
	items, err = b.ListUnified(ctx, &completed, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"done-old"}, names(items), "recurring jobs only appear for pending")

	bogus := task.Status("archived")
	_, err = b.ListUnified(ctx, &bogus, 0)
	assert.ErrorIs(t, err, task.ErrInvalidPayload)
}

func TestTerminalRowsMostRecentlyResolvedFirst(t *testing.T) {
	t.Parallel()
	st, _ := seed(t)
	ctx := context.Background()

	// scheduled earliest, but fired late after downtime
	late, err := st.CreateEvent(ctx, task.Event{
		Target:        task.Target{ChannelID: "-100500"},
		ScheduledTime: t0.Add(-6 * time.Hour),
		Message:       "fired-late",
		Status:        task.StatusPending,
		CreatedAt:     t0,
	})
	require.NoError(t, err)
	executed := t0.Add(-30 * time.Minute)
	late.Status, late.JobKey, late.ExecutedAt = task.StatusCompleted, "", &executed
	require.NoError(t, st.UpdateEvent(ctx, late))

	// scheduled in the future, cancelled just now
	gone, err := st.CreateEvent(ctx, task.Event{
		Target:        task.Target{ChannelID: "-100500"},
		ScheduledTime: t0.Add(9 * time.Hour),
		Message:       "cancelled-now",
		Status:        task.StatusPending,
		CreatedAt:     t0,
	})
	require.NoError(t, err)
	updated := t0.Add(-10 * time.Minute)
	gone.Status, gone.JobKey, gone.UpdatedAt = task.StatusCancelled, "", &updated
	require.NoError(t, st.UpdateEvent(ctx, gone))

	items, err := NewBuilder(st, nil, nil).ListUnified(ctx, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"p-early", "p-late",
		"cancelled-now", "fired-late", "done-new", "cancelled", "done-old",
	}, names(items))
}

func TestListUnifiedLimitBudget(t *testing.T) {
	t.Parallel()
	st, _ := seed(t)
	b := NewBuilder(st, nil, nil)

	items, err := b.ListUnified(context.Background(), nil, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-early", "p-late", "done-new"}, names(items))
}

func TestTieBreakOneShotFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	at := t0.Add(time.Hour)
	for _, m := range []string{"b", "a"} {
		_, err := st.CreateEvent(ctx, task.Event{Target: task.Target{ChannelID: "1"}, ScheduledTime: at, Message: m, Status: task.StatusPending, CreatedAt: t0})
		require.NoError(t, err)
	}
	rec := staticRecurring{
		{Name: "zeta", Type: task.TypeRandomDM, Interval: time.Hour, NextFireTime: at, Enabled: true},
		{Name: "alpha", Type: task.TypeRandomDM, Interval: time.Hour, NextFireTime: at, Enabled: true},
	}
	items, err := NewBuilder(st, rec, nil).ListUnified(ctx, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "alpha", "zeta"}, names(items))
}

func TestDescribeInterval(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   time.Duration
		want string
	}{
		{time.Hour, "hourly"},
		{24 * time.Hour, "daily"},
		{7 * 24 * time.Hour, "weekly"},
		{3 * 24 * time.Hour, "every 3 days"},
		{6 * time.Hour, "every 6 hours"},
		{90 * time.Minute, "every 1h30m0s"},
		{30 * time.Minute, "every 30m0s"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DescribeInterval(tc.in), tc.in.String())
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultLimit, clampLimit(0))
	assert.Equal(t, DefaultLimit, clampLimit(-3))
	assert.Equal(t, MaxLimit, clampLimit(10_000))
	assert.Equal(t, 7, clampLimit(7))
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbot/internal/observability/metrics"
	"taskbot/internal/storage"
	"taskbot/internal/task"
	"taskbot/internal/task/engine"
	"taskbot/internal/task/lifecycle"
	"taskbot/internal/task/recurring"
	"taskbot/internal/task/scheduler"
	"taskbot/internal/task/trigger"
	"taskbot/internal/task/view"
	logx "taskbot/pkg/logx"
)

func init() { gin.SetMode(gin.TestMode) }

var t0 = time.Date(2026, 3, 1, 14, 59, 0, 0, time.UTC)

type stubDeliverer struct {
	mu  sync.Mutex
	err error
	n   int
}

func (d *stubDeliverer) Deliver(context.Context, task.DeliveryRequest) (task.DeliveryOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
	return task.DeliveryOutcome{MessageID: "5"}, d.err
}

func (d *stubDeliverer) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

type env struct {
	router *gin.Engine
	store  storage.Store
	del    *stubDeliverer
	clock  *scheduler.ManualClock
}

func newEnv(t *testing.T, limits map[trigger.Kind]trigger.Limit, debug DebugConfig) *env {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemory()
	eng := engine.New(engine.Config{Enabled: true, Workers: 2, QueueSize: 16}, logx.Nop(), nil)
	eng.Start(ctx)
	clk := scheduler.NewManualClock(t0)
	sched := scheduler.New(scheduler.Config{Enabled: true}, eng, clk, logx.Nop(), nil)
	sched.Start(ctx)
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sched.Stop(sctx)
		eng.Stop(sctx)
	})

	del := &stubDeliverer{}
	m := metrics.New()
	reg, err := recurring.New(recurring.Config{Jobs: []recurring.JobConfig{
		{Name: recurring.RandomDMJob, Type: task.TypeRandomDM, Interval: 24 * time.Hour, Enabled: true, UserIDs: []string{"101"}, Messages: []string{"hey"}},
		{Name: recurring.ImagePostJob, Type: task.TypeImagePost, Interval: 7 * 24 * time.Hour, Enabled: true, ChannelID: "-100777", ImageURLs: []string{"https://img.example/cat.png"}},
	}}, store, sched, del, logx.Nop(), recurring.WithMetrics(m))
	require.NoError(t, err)
	require.NoError(t, reg.Start(ctx))

	ctl := lifecycle.New(lifecycle.Config{}, store, sched, del, logx.Nop(),
		lifecycle.WithRecurring(reg), lifecycle.WithMetrics(m))
	gate := trigger.New(trigger.Config{Limits: limits}, reg, del, store, logx.Nop(), trigger.WithMetrics(m))

	r := NewRouter(Deps{
		Tasks:     ctl,
		Unified:   view.NewBuilder(store, reg, ctl),
		Recurring: reg,
		Trigger:   gate,
		Audit:     store,
		Metrics:   m,
		Health:    sched.Snapshot,
		Debug:     debug,
		Log:       logx.Nop(),
	})
	return &env{router: r, store: store, del: del, clock: clk}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func newTask(at, msg string) map[string]any {
	return map[string]any{
		"target":         map[string]any{"channel_id": "-1001234", "name": "general"},
		"scheduled_time": at,
		"message":        msg,
		"created_by":     map[string]any{"id": "7", "name": "ops"},
	}
}

func TestCreateGetAndList(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, DebugConfig{})

	rec := e.do(t, http.MethodPost, "/api/v1/tasks", newTask("2026-03-01T15:00:00Z", "Standup at 3pm"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ev := decode[task.Event](t, rec)
	assert.Equal(t, task.StatusPending, ev.Status)
	assert.Equal(t, time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC), ev.ScheduledTime)

	rec = e.do(t, http.MethodGet, "/api/v1/tasks/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Standup at 3pm", decode[task.Event](t, rec).Message)

	rec = e.do(t, http.MethodGet, "/api/v1/tasks?view=raw", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	raw := decode[listBody[task.Event]](t, rec)
	assert.Equal(t, 1, raw.Count)

	rec = e.do(t, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	unified := decode[listBody[view.Item]](t, rec)
	require.Len(t, unified.Items, 3)
	assert.Equal(t, view.KindOneShot, unified.Items[0].Kind)
	assert.Equal(t, view.KindRecurring, unified.Items[1].Kind)
	assert.Equal(t, 3, unified.Count)

	rec = e.do(t, http.MethodGet, "/api/v1/tasks?offset=1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, CodeBadRequest, decode[errorBody](t, rec).Error)

	rec = e.do(t, http.MethodGet, "/api/v1/tasks?view=raw&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	raw = decode[listBody[task.Event]](t, rec)
	assert.Empty(t, raw.Items)
	assert.Equal(t, 1, raw.Count)
}

func TestCreateAcceptsNaiveAndOffsetTimes(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, DebugConfig{})
	for _, at := range []string{"2026-03-01 15:00:00", "2026-03-01T15:00:00", "2026-03-01T17:00:00+02:00"} {
		rec := e.do(t, http.MethodPost, "/api/v1/tasks", newTask(at, "hi"))
		require.Equal(t, http.StatusCreated, rec.Code, "%s: %s", at, rec.Body.String())
		assert.Equal(t, time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC), decode[task.Event](t, rec).ScheduledTime, at)
	}
}

func TestCreateErrors(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, DebugConfig{})
	cases := []struct {
		name string
		body any
		code string
	}{
		{"past", newTask("2026-03-01T14:00:00Z", "late"), CodeInvalidSchedule},
		{"unparseable", newTask("tomorrow", "x"), CodeInvalidSchedule},
		{"empty message", newTask("2026-03-01T15:00:00Z", "   "), CodeInvalidPayload},
		{"malformed json", `{"message":`, CodeBadRequest},
	}
	for _, tc := range cases {
		rec := e.do(t, http.MethodPost, "/api/v1/tasks", tc.body)
		require.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
		body := decode[errorBody](t, rec)
		assert.Equal(t, tc.code, body.Error, tc.name)
		assert.NotEmpty(t, body.RequestID, tc.name)
	}
}

func TestUpdateAndCancel(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, DebugConfig{})
	rec := e.do(t, http.MethodPost, "/api/v1/tasks", newTask("2026-03-01T15:00:00Z", "v1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodPatch, "/api/v1/tasks/1", map[string]any{"message": "v2", "scheduled_time": "2026-03-01T16:00:00Z"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ev := decode[task.Event](t, rec)
	assert.Equal(t, "v2", ev.Message)
	assert.Equal(t, 16, ev.ScheduledTime.Hour())

	rec = e.do(t, http.MethodPut, "/api/v1/tasks/1", map[string]any{"scheduled_time": "2026-03-01T14:00:00Z"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidSchedule, decode[errorBody](t, rec).Error)

	rec = e.do(t, http.MethodDelete, "/api/v1/tasks/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, task.StatusCancelled, decode[task.Event](t, rec).Status)

	rec = e.do(t, http.MethodPost, "/api/v1/tasks/1/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidState, decode[errorBody](t, rec).Error)

	rec = e.do(t, http.MethodPatch, "/api/v1/tasks/1", map[string]any{"message": "v3"})
	assert.Equal(t, CodeInvalidState, decode[errorBody](t, rec).Error)
}

func TestNotFoundAndBadIDs(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, DebugConfig{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/tasks/99"},
		{http.MethodDelete, "/api/v1/tasks/99"},
		{http.MethodPost, "/api/v1/recurring/nope/cancel"},
		{http.MethodGet, "/api/v1/unknown"},
	} {
		rec := e.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.path)
		assert.Equal(t, CodeNotFound, decode[errorBody](t, rec).Error, tc.path)
	}

	rec := e.do(t, http.MethodGet, "/api/v1/tasks/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/v1/tasks?status=bogus", nil)
	assert.Equal(t, CodeInvalidPayload, decode[errorBody](t, rec).Error)
	rec = e.do(t, http.MethodGet, "/api/v1/tasks?limit=-1", nil)
	assert.Equal(t, CodeBadRequest, decode[errorBody](t, rec).Error)
	rec = e.do(t, http.MethodPatch, "/api/v1/recurring", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecurringListAndCancel(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, DebugConfig{})

	rec := e.do(t, http.MethodGet, "/api/v1/recurring", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listBody[recurringJob]](t, rec)
	require.Equal(t, 2, list.Count)
	assert.Equal(t, recurring.ImagePostJob, list.Items[0].Name)
	assert.Equal(t, int64(7*24*3600), list.Items[0].IntervalSeconds)
	assert.NotNil(t, list.Items[0].NextFireTime)

	rec = e.do(t, http.MethodDelete, "/api/v1/recurring/"+recurring.RandomDMJob, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/v1/recurring", nil)
	for _, j := range decode[listBody[recurringJob]](t, rec).Items {
		if j.Name == recurring.RandomDMJob {
			assert.False(t, j.Enabled)
			assert.Nil(t, j.NextFireTime)
		}
	}
}

func TestTriggerRateLimit(t *testing.T) {
	t.Parallel()
	e := newEnv(t, map[trigger.Kind]trigger.Limit{trigger.KindImage: {Max: 10, Window: time.Hour}}, DebugConfig{})

	for i := 0; i < 10; i++ {
		rec := e.do(t, http.MethodPost, "/api/v1/trigger/image", nil)
		require.Equal(t, http.StatusOK, rec.Code, "call %d: %s", i+1, rec.Body.String())
	}
	rec := e.do(t, http.MethodPost, "/api/v1/trigger/image", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	body := decode[errorBody](t, rec)
	assert.Equal(t, CodeRateLimited, body.Error)
	assert.Greater(t, body.RetryAfterSeconds, 0)

	rec = e.do(t, http.MethodGet, "/api/v1/audit?limit=100", nil)
	assert.Equal(t, 10, decode[listBody[task.AuditEntry]](t, rec).Count)
}

func TestTriggerDeliveryFailureAndBadKind(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, DebugConfig{})
	e.del.fail(errors.New("chat not found"))

	rec := e.do(t, http.MethodPost, "/api/v1/trigger/dm", map[string]any{"target": map[string]any{"channel_id": "@bob"}})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, CodeDeliveryFailed, decode[errorBody](t, rec).Error)

	rec = e.do(t, http.MethodPost, "/api/v1/trigger/video", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidPayload, decode[errorBody](t, rec).Error)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, DebugConfig{})

	rec := e.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"armed":2`)

	rec = e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/healthz",status="200"} 1`)
}

func TestPprofRequiresToken(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, DebugConfig{Enabled: true, Token: "s3cret"})

	rec := e.do(t, http.MethodGet, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "goroutine"))

	assert.True(t, DebugConfig{}.Allowed("127.0.0.1:8080"))
	assert.False(t, DebugConfig{}.Allowed(":8080"))
	assert.True(t, DebugConfig{Token: "x"}.Allowed("0.0.0.0:8080"))
}

func TestParseScheduledTime(t *testing.T) {
	t.Parallel()
	want := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	for in, ok := range map[string]bool{
		"2026-05-04T09:30:00Z":      true,
		"2026-05-04T11:30:00+02:00": true,
		"2026-05-04T09:30:00":       true,
		"2026-05-04 09:30:00":       true,
		"":                          false,
		"2026-05-04":                false,
		"09:30":                     false,
	} {
		got, err := parseScheduledTime(in)
		if !ok {
			assert.ErrorIs(t, err, task.ErrInvalidSchedule, in)
			continue
		}
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

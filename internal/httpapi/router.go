// Package httpapi is the admin HTTP surface: task CRUD, the unified view,
// recurring job control, manual triggers and the audit log.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"taskbot/internal/httpapi/middleware"
	"taskbot/internal/observability/metrics"
	"taskbot/internal/task"
	"taskbot/internal/task/lifecycle"
	"taskbot/internal/task/scheduler"
	"taskbot/internal/task/trigger"
	"taskbot/internal/task/view"
	logx "taskbot/pkg/logx"
)

const maxBodyBytes = 1 << 20

// Tasks is the lifecycle controller as seen by the handlers.
type Tasks interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (task.Event, error)
	Get(ctx context.Context, id int64) (task.Event, error)
	List(ctx context.Context, q lifecycle.Query) (lifecycle.Page, error)
	Update(ctx context.Context, id int64, req lifecycle.UpdateRequest) (task.Event, error)
	Cancel(ctx context.Context, id int64) (task.Event, error)
	CancelRecurring(ctx context.Context, name string) error
}

type Unified interface {
	ListUnified(ctx context.Context, filter *task.Status, limit int) ([]view.Item, error)
}

type Recurring interface {
	List() []task.RecurringJob
}

type Trigger interface {
	Trigger(ctx context.Context, kind trigger.Kind, target *task.Target) (task.AuditEntry, error)
}

type Audit interface {
	ListAudit(ctx context.Context, limit int) ([]task.AuditEntry, error)
}

// Deps wires the router. Recurring, Trigger, Metrics and Health are optional.
type Deps struct {
	Tasks     Tasks
	Unified   Unified
	Recurring Recurring
	Trigger   Trigger
	Audit     Audit
	Metrics   *metrics.Metrics
	Health    func() scheduler.Snapshot
	Debug     DebugConfig
	Log       logx.Logger
}

// API holds the handler dependencies.
type API struct {
	Deps
	log logx.Logger
}

// NewRouter builds the gin engine with middleware, the /api/v1 group,
// /healthz and /metrics.
func NewRouter(d Deps) *gin.Engine {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &API{Deps: d, log: log.With(logx.String("comp", "httpapi"))}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		middleware.RequestID(),
		middleware.Logger(a.log),
		middleware.Recovery(a.log),
		middleware.Metrics(d.Metrics),
		middleware.BodyLimit(maxBodyBytes),
	)

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		fail(c, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/healthz", a.health)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	if d.Debug.Enabled {
		mountPprof(r, d.Debug)
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/tasks", a.listTasks)
		v1.POST("/tasks", a.createTask)
		v1.GET("/tasks/:id", a.getTask)
		v1.PATCH("/tasks/:id", a.updateTask)
		v1.PUT("/tasks/:id", a.updateTask)
		v1.DELETE("/tasks/:id", a.cancelTask)
		v1.POST("/tasks/:id/cancel", a.cancelTask)

		v1.GET("/recurring", a.listRecurring)
		v1.POST("/recurring/:name/cancel", a.cancelRecurring)
		v1.DELETE("/recurring/:name", a.cancelRecurring)

		v1.POST("/trigger/:kind", a.trigger)
		v1.GET("/audit", a.listAudit)
	}
	return r
}

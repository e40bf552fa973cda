package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"taskbot/internal/task"
	"taskbot/internal/task/trigger"
	"taskbot/internal/task/view"
)

type triggerRequest struct {
	Target *task.Target `json:"target"`
}

func (a *API) trigger(c *gin.Context) {
	if a.Trigger == nil {
		fail(c, http.StatusNotFound, CodeNotFound, "manual triggers are disabled")
		return
	}
	kind, err := trigger.ParseKind(c.Param("kind"))
	if err != nil {
		a.failErr(c, err)
		return
	}
	var body triggerRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid JSON body: "+err.Error())
		return
	}
	if body.Target != nil && body.Target.ChannelID == "" {
		body.Target = nil
	}

	entry, err := a.Trigger.Trigger(c.Request.Context(), kind, body.Target)
	if err != nil {
		a.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (a *API) listAudit(c *gin.Context) {
	limit, ok := queryInt(c, "limit", view.DefaultLimit)
	if !ok {
		return
	}
	if limit == 0 {
		limit = view.DefaultLimit
	}
	limit = min(limit, view.MaxLimit)
	entries, err := a.Audit.ListAudit(c.Request.Context(), limit)
	if err != nil {
		a.failErr(c, err)
		return
	}
	if entries == nil {
		entries = []task.AuditEntry{}
	}
	c.JSON(http.StatusOK, listBody[task.AuditEntry]{Items: entries, Count: len(entries)})
}

package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"taskbot/internal/task"
	"taskbot/internal/task/lifecycle"
	"taskbot/internal/task/view"
)

type createTaskRequest struct {
	Target        task.Target   `json:"target"`
	ScheduledTime string        `json:"scheduled_time"`
	Message       string        `json:"message"`
	CreatedBy     *task.Creator `json:"created_by"`
}

type updateTaskRequest struct {
	ScheduledTime *string `json:"scheduled_time"`
	Message       *string `json:"message"`
}

func (a *API) listTasks(c *gin.Context) {
	var filter *task.Status
	if raw := c.Query("status"); raw != "" {
		st, err := task.ParseStatus(raw)
		if err != nil {
			a.failErr(c, fmt.Errorf("%w: %v", task.ErrInvalidPayload, err))
			return
		}
		filter = &st
	}
	limit, ok := queryInt(c, "limit", view.DefaultLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}

	switch strings.ToLower(c.DefaultQuery("view", "unified")) {
	case "unified":
		if a.Unified == nil {
			break
		}
		// the merged list has no stable paging; count is the page size
		if offset > 0 {
			badRequest(c, "offset is only supported with view=raw")
			return
		}
		items, err := a.Unified.ListUnified(c.Request.Context(), filter, limit)
		if err != nil {
			a.failErr(c, err)
			return
		}
		c.JSON(http.StatusOK, listBody[view.Item]{Items: items, Count: len(items)})
		return
	case "raw":
	default:
		badRequest(c, "view must be unified or raw")
		return
	}

	page, err := a.Tasks.List(c.Request.Context(), lifecycle.Query{Status: filter, Limit: limit, Offset: offset})
	if err != nil {
		a.failErr(c, err)
		return
	}
	if page.Items == nil {
		page.Items = []task.Event{}
	}
	c.JSON(http.StatusOK, listBody[task.Event]{Items: page.Items, Count: page.Total})
}

func (a *API) createTask(c *gin.Context) {
	var body createTaskRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid JSON body: "+err.Error())
		return
	}
	at, err := parseScheduledTime(body.ScheduledTime)
	if err != nil {
		a.failErr(c, err)
		return
	}
	ev, err := a.Tasks.Create(c.Request.Context(), lifecycle.CreateRequest{
		Target:        body.Target,
		ScheduledTime: at,
		Message:       body.Message,
		CreatedBy:     body.CreatedBy,
	})
	if err != nil {
		a.failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

func (a *API) getTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ev, err := a.Tasks.Get(c.Request.Context(), id)
	if err != nil {
		a.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (a *API) updateTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body updateTaskRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid JSON body: "+err.Error())
		return
	}
	req := lifecycle.UpdateRequest{Message: body.Message}
	if body.ScheduledTime != nil {
		at, err := parseScheduledTime(*body.ScheduledTime)
		if err != nil {
			a.failErr(c, err)
			return
		}
		req.ScheduledTime = &at
	}
	ev, err := a.Tasks.Update(c.Request.Context(), id, req)
	if err != nil {
		a.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (a *API) cancelTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ev, err := a.Tasks.Cancel(c.Request.Context(), id)
	if err != nil {
		a.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, fmt.Sprintf("invalid task id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

// queryInt reads a non-negative integer query parameter. On a bad value it
// writes the 400 and reports false.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, fmt.Sprintf("%s must be a non-negative integer", name))
		return 0, false
	}
	return n, true
}

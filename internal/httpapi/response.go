package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"taskbot/internal/httpapi/middleware"
	"taskbot/internal/task"
	logx "taskbot/pkg/logx"
)

// Error codes of the JSON envelope.
const (
	CodeBadRequest       = "bad_request"
	CodeInvalidSchedule  = "invalid_schedule"
	CodeInvalidPayload   = "invalid_payload"
	CodeInvalidState     = "invalid_state"
	CodeNotFound         = "not_found"
	CodeRateLimited      = "rate_limited"
	CodeDeliveryFailed   = "delivery_failed"
	CodeInternal         = "internal_error"
	CodeMethodNotAllowed = "method_not_allowed"
)

type errorBody struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RequestID         string `json:"request_id,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

type listBody[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func fail(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorBody{
		Error:     code,
		Message:   msg,
		RequestID: middleware.RequestIDFrom(c),
	})
}

// failErr classifies err into a status and code. Internal errors are logged
// and never echoed to the client.
func (a *API) failErr(c *gin.Context, err error) {
	var rl *task.RateLimitedError
	switch {
	case errors.As(err, &rl):
		secs := rl.RetryAfterSeconds()
		c.Header("Retry-After", strconv.Itoa(secs))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{
			Error:             CodeRateLimited,
			Message:           err.Error(),
			RequestID:         middleware.RequestIDFrom(c),
			RetryAfterSeconds: secs,
		})
	case errors.Is(err, task.ErrNotFound):
		fail(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, task.ErrInvalidSchedule):
		fail(c, http.StatusBadRequest, CodeInvalidSchedule, err.Error())
	case errors.Is(err, task.ErrInvalidPayload):
		fail(c, http.StatusBadRequest, CodeInvalidPayload, err.Error())
	case errors.Is(err, task.ErrInvalidState):
		fail(c, http.StatusBadRequest, CodeInvalidState, err.Error())
	case errors.Is(err, task.ErrDelivery):
		fail(c, http.StatusBadGateway, CodeDeliveryFailed, err.Error())
	default:
		middleware.LoggerFrom(c, a.log).Error("request failed", logx.Err(err))
		fail(c, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}

func badRequest(c *gin.Context, msg string) {
	fail(c, http.StatusBadRequest, CodeBadRequest, msg)
}

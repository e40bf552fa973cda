package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type schedulerHealth struct {
	Enabled     bool   `json:"enabled"`
	Started     bool   `json:"started"`
	Armed       int    `json:"armed"`
	QueueLen    int    `json:"queue_len"`
	QueueCap    int    `json:"queue_cap"`
	InFlight    int    `json:"in_flight"`
	Dropped     uint64 `json:"dropped"`
	EngineOn    bool   `json:"engine_enabled"`
	WorkerCount int    `json:"workers"`
}

func (a *API) health(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if a.Health != nil {
		s := a.Health()
		body["scheduler"] = schedulerHealth{
			Enabled:     s.Enabled,
			Started:     s.Started,
			Armed:       s.Armed,
			QueueLen:    s.Engine.QueueLen,
			QueueCap:    s.Engine.QueueCap,
			InFlight:    s.Engine.InFlight,
			Dropped:     s.Engine.Dropped,
			EngineOn:    s.Engine.Enabled,
			WorkerCount: s.Engine.Workers,
		}
	}
	c.JSON(http.StatusOK, body)
}

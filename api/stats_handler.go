package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/polarsource/polar-sub002/job"
)

type statsResponse struct {
	Jobs     map[job.State]int64 `json:"jobs"`
	DLQCount int64               `json:"dlq_count"`
	Actors   int                 `json:"actors"`
	Crons    int                 `json:"crons"`
}

func (a *API) stats(c *gin.Context) {
	jobs, err := a.countJobs(c)
	if err != nil {
		fail(c, err)
		return
	}
	dlqCount, err := a.eng.DLQService().DLQStore().CountDLQ(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	crons, err := a.eng.CronStore().ListCrons(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, statsResponse{
		Jobs:     jobs,
		DLQCount: dlqCount,
		Actors:   len(a.eng.Registry().Names()),
		Crons:    len(crons),
	})
}

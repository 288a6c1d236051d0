package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
)

var countedStates = []job.State{
	job.StatePending,
	job.StateRunning,
	job.StateRetrying,
	job.StateCompleted,
	job.StateFailed,
	job.StateCancelled,
	job.StateSkipped,
}

func (a *API) listJobs(c *gin.Context) {
	limit, offset, ok := page(c)
	if !ok {
		return
	}
	state := job.State(c.DefaultQuery("state", string(job.StatePending)))

	jobs, err := a.eng.JobStore().ListJobsByState(c.Request.Context(), state, job.ListOpts{
		Limit:  limit,
		Offset: offset,
		Queue:  c.Query("queue"),
	})
	if err != nil {
		fail(c, fmt.Errorf("list jobs: %w", err))
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (a *API) getJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid job ID: %v", err))
		return
	}
	j, err := a.eng.JobStore().GetJob(c.Request.Context(), jobID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

// cancelJob cancels a job that has not started yet.
func (a *API) cancelJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid job ID: %v", err))
		return
	}
	js := a.eng.JobStore()
	j, err := js.GetJob(c.Request.Context(), jobID)
	if err != nil {
		fail(c, err)
		return
	}
	if j.State != job.StatePending && j.State != job.StateRetrying {
		c.AbortWithStatusJSON(http.StatusConflict, errorResponse{
			Error: fmt.Sprintf("can only cancel pending or retrying jobs, current state: %s", j.State),
		})
		return
	}

	now := time.Now().UTC()
	j.State = job.StateCancelled
	j.CompletedAt = &now
	if err := js.UpdateJob(c.Request.Context(), j); err != nil {
		fail(c, fmt.Errorf("cancel job: %w", err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) jobCounts(c *gin.Context) {
	counts, err := a.countJobs(c)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (a *API) countJobs(c *gin.Context) (map[job.State]int64, error) {
	queue := c.Query("queue")
	counts := make(map[job.State]int64, len(countedStates))
	for _, state := range countedStates {
		n, err := a.eng.JobStore().CountJobs(c.Request.Context(), job.CountOpts{State: state, Queue: queue})
		if err != nil {
			return nil, fmt.Errorf("count jobs (%s): %w", state, err)
		}
		counts[state] = n
	}
	return counts, nil
}

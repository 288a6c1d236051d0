package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/polarsource/polar-sub002/dlq"
	"github.com/polarsource/polar-sub002/id"
)

// defaultRetention is how old an entry must be before purge removes it
// when the request names no age.
const defaultRetention = 30 * 24 * time.Hour

type purgeResponse struct {
	Purged int64 `json:"purged"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

func (a *API) listDLQ(c *gin.Context) {
	limit, offset, ok := page(c)
	if !ok {
		return
	}
	entries, err := a.eng.DLQService().List(c.Request.Context(), dlq.ListOpts{
		Limit:  limit,
		Offset: offset,
		Queue:  c.Query("queue"),
	})
	if err != nil {
		fail(c, fmt.Errorf("list dlq: %w", err))
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (a *API) getDLQ(c *gin.Context) {
	entryID, err := id.ParseDLQID(c.Param("entryId"))
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid DLQ entry ID: %v", err))
		return
	}
	entry, err := a.eng.DLQService().DLQStore().GetDLQ(c.Request.Context(), entryID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// replayDLQ re-enqueues the entry as a new pending job.
func (a *API) replayDLQ(c *gin.Context) {
	entryID, err := id.ParseDLQID(c.Param("entryId"))
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid DLQ entry ID: %v", err))
		return
	}
	j, err := a.eng.DLQService().Replay(c.Request.Context(), entryID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, j)
}

// purgeDLQ removes entries older than the "older_than" duration.
func (a *API) purgeDLQ(c *gin.Context) {
	olderThan := defaultRetention
	if v := c.Query("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			badRequest(c, "older_than must be a non-negative duration")
			return
		}
		olderThan = d
	}
	n, err := a.eng.DLQService().Purge(c.Request.Context(), olderThan)
	if err != nil {
		fail(c, fmt.Errorf("purge dlq: %w", err))
		return
	}
	c.JSON(http.StatusOK, purgeResponse{Purged: n})
}

func (a *API) dlqCount(c *gin.Context) {
	n, err := a.eng.DLQService().DLQStore().CountDLQ(c.Request.Context())
	if err != nil {
		fail(c, fmt.Errorf("count dlq: %w", err))
		return
	}
	c.JSON(http.StatusOK, countResponse{Count: n})
}

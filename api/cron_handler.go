package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/polarsource/polar-sub002/cron"
	"github.com/polarsource/polar-sub002/id"
)

func (a *API) listCrons(c *gin.Context) {
	entries, err := a.eng.CronStore().ListCrons(c.Request.Context())
	if err != nil {
		fail(c, fmt.Errorf("list crons: %w", err))
		return
	}
	c.JSON(http.StatusOK, entries)
}

// cronEntry loads the entry named by the path, writing the error response
// itself when it cannot.
func (a *API) cronEntry(c *gin.Context) (*cron.Entry, bool) {
	cronID, err := id.ParseCronID(c.Param("cronId"))
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid cron ID: %v", err))
		return nil, false
	}
	entry, err := a.eng.CronStore().GetCron(c.Request.Context(), cronID)
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return entry, true
}

func (a *API) getCron(c *gin.Context) {
	if entry, ok := a.cronEntry(c); ok {
		c.JSON(http.StatusOK, entry)
	}
}

func (a *API) enableCron(c *gin.Context)  { a.setCronEnabled(c, true) }
func (a *API) disableCron(c *gin.Context) { a.setCronEnabled(c, false) }

func (a *API) setCronEnabled(c *gin.Context, enabled bool) {
	entry, ok := a.cronEntry(c)
	if !ok {
		return
	}
	entry.Enabled = enabled
	entry.Touch()
	if err := a.eng.CronStore().UpdateCronEntry(c.Request.Context(), entry); err != nil {
		fail(c, fmt.Errorf("update cron: %w", err))
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (a *API) deleteCron(c *gin.Context) {
	cronID, err := id.ParseCronID(c.Param("cronId"))
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid cron ID: %v", err))
		return
	}
	if err := a.eng.CronStore().DeleteCron(c.Request.Context(), cronID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

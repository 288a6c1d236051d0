// Package api serves the operator endpoints of the task runtime over gin:
// job inspection and cancellation, the dead letter queue, cron entries and
// aggregate counts. WithBilling adds account linking and meter ingestion.
// Mount it next to the webhook ingress:
//
//	srv := ingress.New(events, eng, secret, ingress.WithRoutes(api.New(eng, api.WithBilling(svc)).RegisterRoutes))
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/billing"
	"github.com/polarsource/polar-sub002/engine"
)

// BasePath prefixes every route.
const BasePath = "/v1/admin"

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// API holds the handlers.
type API struct {
	eng     *engine.Engine
	billing *billing.Services
}

// Option configures an API.
type Option func(*API)

// WithBilling serves the billing routes backed by svc.
func WithBilling(svc *billing.Services) Option {
	return func(a *API) { a.billing = svc }
}

// New creates an API over eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a standalone handler serving only the operator routes.
func (a *API) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	a.RegisterRoutes(router)
	return router
}

// RegisterRoutes adds the routes to r.
func (a *API) RegisterRoutes(r gin.IRouter) {
	g := r.Group(BasePath)

	g.GET("/jobs", a.listJobs)
	g.GET("/jobs/counts", a.jobCounts)
	g.GET("/jobs/:jobId", a.getJob)
	g.POST("/jobs/:jobId/cancel", a.cancelJob)

	g.GET("/dlq", a.listDLQ)
	g.GET("/dlq/count", a.dlqCount)
	g.POST("/dlq/purge", a.purgeDLQ)
	g.GET("/dlq/:entryId", a.getDLQ)
	g.POST("/dlq/:entryId/replay", a.replayDLQ)

	g.GET("/crons", a.listCrons)
	g.GET("/crons/:cronId", a.getCron)
	g.POST("/crons/:cronId/enable", a.enableCron)
	g.POST("/crons/:cronId/disable", a.disableCron)
	g.DELETE("/crons/:cronId", a.deleteCron)

	g.GET("/stats", a.stats)

	if a.billing != nil {
		g.POST("/organizations/:orgId/account", a.linkAccount)
		g.POST("/meters/events", a.ingestEvents)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// fail writes err with the status its sentinel maps to.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if isNotFound(err) {
		status = http.StatusNotFound
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func isNotFound(err error) bool {
	return errors.Is(err, polar.ErrJobNotFound) ||
		errors.Is(err, polar.ErrDLQNotFound) ||
		errors.Is(err, polar.ErrCronNotFound) ||
		errors.Is(err, polar.ErrOrganizationNotFound) ||
		errors.Is(err, polar.ErrAccountNotFound)
}

// page reads limit and offset from the query string.
func page(c *gin.Context) (limit, offset int, ok bool) {
	limit, offset = defaultPageSize, 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(c, "limit must be a positive integer")
			return 0, 0, false
		}
		limit = min(n, maxPageSize)
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/polarsource/polar-sub002/account"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/meter"
)

type linkAccountRequest struct {
	AccountID string `json:"account_id" binding:"required"`
}

type ingestRequest struct {
	Events []*meter.Event `json:"events" binding:"required"`
}

type ingestResponse struct {
	Inserted int `json:"inserted"`
}

// linkAccount attaches a payout account to the organization. The release
// of its held balances is enqueued once the link is saved.
func (a *API) linkAccount(c *gin.Context) {
	orgID, err := id.ParseOrganizationID(c.Param("orgId"))
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid organization ID: %v", err))
		return
	}
	var req linkAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	accountID, err := id.ParseAccountID(req.AccountID)
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid account ID: %v", err))
		return
	}

	var org *account.Organization
	err = a.eng.Run(c.Request.Context(), func(ctx context.Context) error {
		var err error
		org, err = a.billing.Accounts.LinkAccount(ctx, orgID, accountID)
		return err
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, org)
}

// ingestEvents stores usage events for metered billing. Events already
// ingested under the same external id are skipped.
func (a *API) ingestEvents(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	n, err := a.billing.Meters.Ingest(c.Request.Context(), req.Events)
	if errors.Is(err, meter.ErrInvalidEvent) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ingestResponse{Inserted: n})
}

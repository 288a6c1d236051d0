package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xraph/relay"
	relaymem "github.com/xraph/relay/store/memory"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/account"
	"github.com/polarsource/polar-sub002/api"
	"github.com/polarsource/polar-sub002/billing"
	"github.com/polarsource/polar-sub002/engine"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/store/memory"
	"github.com/polarsource/polar-sub002/webhook"
)

func newBillingAPI(t *testing.T) (*engine.Engine, *billing.Services, http.Handler) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	rt, err := polar.New(polar.WithStore(s))
	if err != nil {
		t.Fatalf("polar.New: %v", err)
	}
	eng, err := engine.Build(rt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	r, err := relay.New(relay.WithStore(relaymem.New()))
	if err != nil {
		t.Fatalf("relay.New: %v", err)
	}
	if err := webhook.RegisterAll(ctx, r); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	svc, err := billing.Register(ctx, eng, billing.Deps{Store: s, Relay: r})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return eng, svc, api.New(eng, api.WithBilling(svc)).Handler()
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLinkAccountRoute(t *testing.T) {
	ctx := context.Background()
	eng, svc, h := newBillingAPI(t)

	org, err := svc.Accounts.CreateOrganization(ctx, "Acme", "acme")
	if err != nil {
		t.Fatal(err)
	}
	acct, err := svc.Accounts.CreateAccount(ctx, "acct_123", "US", "usd")
	if err != nil {
		t.Fatal(err)
	}

	path := api.BasePath + "/organizations/" + org.ID.String() + "/account"
	rec := post(t, h, path, map[string]string{"account_id": acct.ID.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got account.Organization
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AccountID.String() != acct.ID.String() {
		t.Errorf("account = %s, want %s", got.AccountID, acct.ID)
	}

	jobs, err := eng.JobStore().ListJobsByState(ctx, job.StatePending, job.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Name != account.TaskReleaseHeldBalances {
		t.Fatalf("pending jobs = %+v", jobs)
	}
	if jobs[0].ScopeOrgID != org.ID.String() {
		t.Errorf("release scoped to %q, want %s", jobs[0].ScopeOrgID, org.ID)
	}
}

func TestLinkAccountRoute_Errors(t *testing.T) {
	ctx := context.Background()
	_, svc, h := newBillingAPI(t)
	org, err := svc.Accounts.CreateOrganization(ctx, "Acme", "acme")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"malformed organization", api.BasePath + "/organizations/nope/account", map[string]string{"account_id": id.NewAccountID().String()}, http.StatusBadRequest},
		{"missing account", api.BasePath + "/organizations/" + org.ID.String() + "/account", map[string]string{}, http.StatusBadRequest},
		{"unknown account", api.BasePath + "/organizations/" + org.ID.String() + "/account", map[string]string{"account_id": id.NewAccountID().String()}, http.StatusNotFound},
		{"unknown organization", api.BasePath + "/organizations/" + id.NewOrganizationID().String() + "/account", map[string]string{"account_id": id.NewAccountID().String()}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := post(t, h, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestIngestEventsRoute(t *testing.T) {
	_, _, h := newBillingAPI(t)
	orgID, customerID := id.NewOrganizationID(), id.NewCustomerID()

	events := make([]map[string]any, 0, 2)
	for i := range 2 {
		events = append(events, map[string]any{
			"organization_id": orgID.String(),
			"customer_id":     customerID.String(),
			"name":            "api.request",
			"external_id":     fmt.Sprintf("req_%d", i),
		})
	}
	path := api.BasePath + "/meters/events"

	rec := post(t, h, path, map[string]any{"events": events})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got struct {
		Inserted int `json:"inserted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Inserted != 2 {
		t.Errorf("inserted = %d, want 2", got.Inserted)
	}

	rec = post(t, h, path, map[string]any{"events": events})
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Inserted != 0 {
		t.Errorf("redelivered batch inserted %d, want 0", got.Inserted)
	}

	bad := []map[string]any{{"organization_id": orgID.String(), "name": "api.request", "external_id": "req_x"}}
	if rec := post(t, h, path, map[string]any{"events": bad}); rec.Code != http.StatusBadRequest {
		t.Errorf("event without customer: status = %d, want 400", rec.Code)
	}
}

package account_test

import (
	"context"
	"errors"
	"testing"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/account"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/store/memory"
)

func TestLinkAccount(t *testing.T) {
	svc := account.NewService(memory.New())
	ctx, q := jobqueue.Open(context.Background())

	org, err := svc.CreateOrganization(ctx, "Acme", "acme")
	if err != nil {
		t.Fatal(err)
	}
	if org.HasAccount() {
		t.Fatal("new organization has an account")
	}
	acc, err := svc.CreateAccount(ctx, "acct_123", "US", "usd")
	if err != nil {
		t.Fatal(err)
	}

	linked, err := svc.LinkAccount(ctx, org.ID, acc.ID)
	if err != nil {
		t.Fatalf("LinkAccount: %v", err)
	}
	if !linked.HasAccount() {
		t.Error("account not linked")
	}
	if q.Len() != 1 || q.Pending()[0].Name != account.TaskReleaseHeldBalances {
		t.Fatalf("pending = %+v", q.Pending())
	}
	if got := q.Pending()[0].OrgID; got != org.ID.String() {
		t.Errorf("release scoped to %q, want %s", got, org.ID)
	}

	// Relinking the same account buffers nothing.
	if _, err := svc.LinkAccount(ctx, org.ID, acc.ID); err != nil {
		t.Fatal(err)
	}
	if q.Len() != 1 {
		t.Errorf("relink buffered another release")
	}
}

func TestLinkAccount_NotFound(t *testing.T) {
	svc := account.NewService(memory.New())
	ctx, _ := jobqueue.Open(context.Background())

	if _, err := svc.LinkAccount(ctx, id.NewOrganizationID(), id.NewAccountID()); !errors.Is(err, polar.ErrOrganizationNotFound) {
		t.Errorf("unknown organization err = %v", err)
	}

	org, err := svc.CreateOrganization(ctx, "Acme", "acme")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.LinkAccount(ctx, org.ID, id.NewAccountID()); !errors.Is(err, polar.ErrAccountNotFound) {
		t.Errorf("unknown account err = %v", err)
	}
}

package webhook_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/xraph/relay"
	relaymem "github.com/xraph/relay/store/memory"

	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/webhook"
)

func TestEnqueue(t *testing.T) {
	ctx, q := jobqueue.Open(context.Background())
	org := id.NewOrganizationID()

	if err := webhook.Enqueue(ctx, webhook.EventOrderPaid, org, map[string]int{"total": 1000}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	pending := q.Pending()
	if len(pending) != 1 || pending[0].Name != webhook.TaskSend {
		t.Fatalf("pending = %+v", pending)
	}

	var p webhook.Payload
	if err := json.Unmarshal(pending[0].Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Type != webhook.EventOrderPaid || p.OrganizationID.String() != org.String() {
		t.Errorf("payload = %s for %s", p.Type, p.OrganizationID)
	}
	if string(p.Data) != `{"total":1000}` {
		t.Errorf("data = %s", p.Data)
	}
}

func TestEnqueue_NeedsJobQueue(t *testing.T) {
	if err := webhook.Enqueue(context.Background(), webhook.EventOrderPaid, id.NewOrganizationID(), nil); err == nil {
		t.Fatal("expected an error without an open job queue")
	}
}

func TestSend_DisabledEventIsDropped(t *testing.T) {
	r, err := relay.New(relay.WithStore(relaymem.New()))
	if err != nil {
		t.Fatalf("relay.New: %v", err)
	}
	s := webhook.NewSender(r, webhook.WithEvents(webhook.EventOrderPaid))

	err = s.Send(context.Background(), webhook.Payload{
		Type:           webhook.EventSubscriptionUpdated,
		OrganizationID: id.NewOrganizationID(),
		Data:           json.RawMessage(`{}`),
	})
	if err != nil {
		t.Errorf("disabled event returned %v", err)
	}
}

func TestAllDefinitions(t *testing.T) {
	seen := make(map[string]bool)
	for _, d := range webhook.AllDefinitions() {
		if seen[d.Name] {
			t.Errorf("duplicate definition %s", d.Name)
		}
		seen[d.Name] = true
		if d.Description == "" || d.Group == "" {
			t.Errorf("%s is missing description or group", d.Name)
		}
	}
	if !seen[webhook.EventCustomerStateChanged] {
		t.Error("customer.state_changed is not in the catalog")
	}
}

package subscription_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v72"

	"github.com/polarsource/polar-sub002/benefit"
	"github.com/polarsource/polar-sub002/broker"
	"github.com/polarsource/polar-sub002/externalevent"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/scope"
	"github.com/polarsource/polar-sub002/store/memory"
	"github.com/polarsource/polar-sub002/subscription"
	"github.com/polarsource/polar-sub002/webhook"
)

// jobRecorder is a jobqueue.Enqueuer that can be told to fail.
type jobRecorder struct {
	mu      sync.Mutex
	jobs    []jobqueue.Pending
	failing bool
}

func (r *jobRecorder) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return nil, errors.New("job store unavailable")
	}
	appID, orgID := scope.Capture(ctx)
	r.jobs = append(r.jobs, jobqueue.Pending{Name: name, Payload: payload, Opts: opts, AppID: appID, OrgID: orgID})
	return &job.Job{ID: id.NewJobID(), Name: name, Payload: payload}, nil
}

func (r *jobRecorder) setFailing(v bool) {
	r.mu.Lock()
	r.failing = v
	r.mu.Unlock()
}

func (r *jobRecorder) reset() []jobqueue.Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.jobs
	r.jobs = nil
	return out
}

func countJobs(jobs []jobqueue.Pending, name string) int {
	n := 0
	for _, j := range jobs {
		if j.Name == name {
			n++
		}
	}
	return n
}

func webhookTypes(t *testing.T, jobs []jobqueue.Pending) []string {
	t.Helper()
	var types []string
	for _, j := range jobs {
		if j.Name != webhook.TaskSend {
			continue
		}
		var p webhook.Payload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			t.Fatalf("decode webhook payload: %v", err)
		}
		types = append(types, p.Type)
	}
	return types
}

func TestUpdateFromStripe_DeletedThenLateUpdate(t *testing.T) {
	f := newFixture(t)
	f.create(t, subscription.CreateParams{StripeSubscriptionID: "sub_del"})
	ctx, q := jobqueue.Open(context.Background())

	// customer.subscription.deleted carries both the canceled status and
	// the cancel_at_period_end flag.
	if _, err := f.svc.UpdateFromStripe(ctx, &stripe.Subscription{
		ID:                "sub_del",
		Status:            stripe.SubscriptionStatusCanceled,
		CancelAtPeriodEnd: true,
	}); err != nil {
		t.Fatalf("deleted: %v", err)
	}
	types := webhookTypes(t, q.Pending())
	canceled := 0
	for _, typ := range types {
		if typ == webhook.EventSubscriptionCanceled {
			canceled++
		}
	}
	if canceled != 1 {
		t.Errorf("webhook types = %v, want subscription.canceled once", types)
	}
	if n := count(q, benefit.TaskRevoke); n != 1 {
		t.Errorf("revokes = %d, want 1", n)
	}

	// The customer.subscription.updated that Stripe sent earlier arrives last.
	q.Discard()
	got, err := f.svc.UpdateFromStripe(ctx, &stripe.Subscription{
		ID:                "sub_del",
		Status:            stripe.SubscriptionStatusActive,
		CancelAtPeriodEnd: true,
	})
	if err != nil {
		t.Fatalf("late update: %v", err)
	}
	if got.Status != subscription.StatusCanceled {
		t.Errorf("status = %s, want canceled", got.Status)
	}
	if q.Len() != 0 {
		t.Errorf("late update buffered %d jobs", q.Len())
	}
}

func TestUpdateFromStripe_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	rec := &jobRecorder{}
	f.enqueueTo(rec)
	sub := f.create(t, subscription.CreateParams{StripeSubscriptionID: "sub_race"})
	rec.reset()

	const deliveries = 8
	var wg sync.WaitGroup
	errs := make(chan error, deliveries)
	for range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.UpdateFromStripe(context.Background(), &stripe.Subscription{
				ID:     "sub_race",
				Status: stripe.SubscriptionStatusUnpaid,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("UpdateFromStripe: %v", err)
		}
	}

	jobs := rec.reset()
	if n := countJobs(jobs, webhook.TaskSend); n != 1 {
		t.Errorf("webhooks = %d, want 1", n)
	}
	if n := countJobs(jobs, benefit.TaskRevoke); n != 1 {
		t.Errorf("revokes = %d, want 1", n)
	}
	if n := countJobs(jobs, subscription.TaskCustomerStateChanged); n != 1 {
		t.Errorf("customer state jobs = %d, want 1", n)
	}
	if n := countJobs(jobs, broker.TaskPublish); n != 1 {
		t.Errorf("domain events = %d, want 1", n)
	}
	for _, j := range jobs {
		if j.OrgID != sub.OrganizationID.String() {
			t.Errorf("%s scoped to %q, want %s", j.Name, j.OrgID, sub.OrganizationID)
		}
	}
}

func TestUpdateFromStripe_EnqueueFailureKeepsEffects(t *testing.T) {
	f := newFixture(t)
	rec := &jobRecorder{}
	f.enqueueTo(rec)
	sub := f.create(t, subscription.CreateParams{StripeSubscriptionID: "sub_down"})
	rec.reset()

	update := &stripe.Subscription{ID: "sub_down", Status: stripe.SubscriptionStatusUnpaid}
	rec.setFailing(true)
	if _, err := f.svc.UpdateFromStripe(context.Background(), update); err == nil {
		t.Fatal("expected the enqueue failure to surface")
	}
	stored, err := f.store.GetSubscription(context.Background(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != subscription.StatusUnpaid || len(stored.PendingEffects) == 0 {
		t.Fatalf("status = %s with %d pending effects", stored.Status, len(stored.PendingEffects))
	}

	// The retried delivery finds no change but still sends the saved effects.
	rec.setFailing(false)
	if _, err := f.svc.UpdateFromStripe(context.Background(), update); err != nil {
		t.Fatalf("retry: %v", err)
	}
	jobs := rec.reset()
	if n := countJobs(jobs, benefit.TaskRevoke); n != 1 {
		t.Errorf("revokes = %d, want 1", n)
	}
	if n := countJobs(jobs, webhook.TaskSend); n != 1 {
		t.Errorf("webhooks = %d, want 1", n)
	}
	stored, _ = f.store.GetSubscription(context.Background(), sub.ID)
	if len(stored.PendingEffects) != 0 {
		t.Errorf("%d effects still pending", len(stored.PendingEffects))
	}

	if _, err := f.svc.UpdateFromStripe(context.Background(), update); err != nil {
		t.Fatal(err)
	}
	if jobs := rec.reset(); len(jobs) != 0 {
		t.Errorf("third delivery sent %d jobs", len(jobs))
	}
}

// flakyEvents fails the first MarkExternalEventHandled call.
type flakyEvents struct {
	*memory.Store
	mu     sync.Mutex
	failed bool
}

func (s *flakyEvents) MarkExternalEventHandled(ctx context.Context, eventID id.ExternalEventID, at time.Time) error {
	s.mu.Lock()
	fail := !s.failed
	s.failed = true
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return s.Store.MarkExternalEventHandled(ctx, eventID, at)
}

func TestStripeUpdateActor_MarkHandledFailure(t *testing.T) {
	f := newFixture(t)
	rec := &jobRecorder{}
	f.enqueueTo(rec)
	f.create(t, subscription.CreateParams{StripeSubscriptionID: "sub_mark"})
	rec.reset()

	events := externalevent.NewService(&flakyEvents{Store: f.store}, f.store, nil)
	ctx, q := jobqueue.Open(context.Background())
	data := json.RawMessage(`{"id":"evt_mark","type":"customer.subscription.updated","data":{"object":{"id":"sub_mark","status":"unpaid"}}}`)
	e, err := events.Enqueue(ctx, externalevent.SourceStripe, subscription.TaskStripeUpdate, "evt_mark", data)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	q.Discard()

	actor := f.svc.StripeUpdateActor(events)
	payload := externalevent.Payload{EventID: e.ID}
	if err := actor.Handler(context.Background(), payload); err == nil {
		t.Fatal("expected the first attempt to fail")
	}
	if err := actor.Handler(context.Background(), payload); err != nil {
		t.Fatalf("retry: %v", err)
	}

	jobs := rec.reset()
	if n := countJobs(jobs, benefit.TaskRevoke); n != 1 {
		t.Errorf("revokes = %d, want 1", n)
	}
	if n := countJobs(jobs, subscription.TaskCustomerStateChanged); n != 1 {
		t.Errorf("customer state jobs = %d, want 1", n)
	}
	got, err := f.store.GetExternalEvent(context.Background(), e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsHandled() {
		t.Error("event not marked handled after retry")
	}
}

package externalevent_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/externalevent"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/store/memory"
)

const task = "stripe.subscription.update"

func TestEnqueue_Duplicate(t *testing.T) {
	mem := memory.New()
	svc := externalevent.NewService(mem, mem, nil)
	ctx, q := jobqueue.Open(context.Background())

	e, err := svc.Enqueue(ctx, externalevent.SourceStripe, task, "evt_1", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if q.Len() != 1 || q.Pending()[0].Name != task {
		t.Fatalf("pending = %+v", q.Pending())
	}

	var p externalevent.Payload
	if err := json.Unmarshal(q.Pending()[0].Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.EventID.String() != e.ID.String() {
		t.Errorf("payload event id = %s, want %s", p.EventID, e.ID)
	}

	if _, err := svc.Enqueue(ctx, externalevent.SourceStripe, task, "evt_1", nil); !errors.Is(err, externalevent.ErrDuplicate) {
		t.Errorf("redelivery err = %v, want ErrDuplicate", err)
	}
	if q.Len() != 1 {
		t.Errorf("redelivery buffered a job")
	}
}

func TestHandle_ExactlyOnce(t *testing.T) {
	mem := memory.New()
	svc := externalevent.NewService(mem, mem, nil)
	ctx, _ := jobqueue.Open(context.Background())

	e, err := svc.Enqueue(ctx, externalevent.SourceStripe, task, "evt_2", nil)
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	calls := 0
	fail := func(context.Context, *externalevent.Event) error { calls++; return boom }
	ok := func(context.Context, *externalevent.Event) error { calls++; return nil }

	if err := svc.Handle(ctx, externalevent.SourceStripe, e.ID, fail); !errors.Is(err, boom) {
		t.Fatalf("failed Handle err = %v", err)
	}
	if err := svc.Handle(ctx, externalevent.SourceStripe, e.ID, ok); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := svc.Handle(ctx, externalevent.SourceStripe, e.ID, ok); !errors.Is(err, externalevent.ErrAlreadyHandled) {
		t.Errorf("third Handle err = %v, want ErrAlreadyHandled", err)
	}
	if calls != 2 {
		t.Errorf("fn calls = %d, want 2", calls)
	}

	if err := svc.Handle(ctx, externalevent.SourceGitHub, e.ID, ok); !errors.Is(err, polar.ErrExternalEventNotFound) {
		t.Errorf("wrong source err = %v", err)
	}
}

func TestResendUnhandled(t *testing.T) {
	mem := memory.New()
	svc := externalevent.NewService(mem, mem, nil)
	ctx, q := jobqueue.Open(context.Background())

	handled, err := svc.Enqueue(ctx, externalevent.SourceStripe, task, "evt_a", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Enqueue(ctx, externalevent.SourceStripe, task, "evt_b", nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.Handle(ctx, externalevent.SourceStripe, handled.ID, func(context.Context, *externalevent.Event) error { return nil }); err != nil {
		t.Fatal(err)
	}

	// Nothing is older than an hour yet.
	q.Discard()
	if n, err := svc.ResendUnhandled(ctx, externalevent.SourceStripe, time.Hour); err != nil || n != 0 {
		t.Fatalf("ResendUnhandled(1h) = %d, %v", n, err)
	}

	// A negative age moves the cutoff into the future.
	n, err := svc.ResendUnhandled(ctx, externalevent.SourceStripe, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || q.Len() != 1 {
		t.Errorf("resent = %d, buffered = %d, want 1", n, q.Len())
	}
}

func TestResendUnhandled_NeedsJobQueue(t *testing.T) {
	mem := memory.New()
	svc := externalevent.NewService(mem, mem, nil)
	ctx, _ := jobqueue.Open(context.Background())
	if _, err := svc.Enqueue(ctx, externalevent.SourceStripe, task, "evt_c", nil); err != nil {
		t.Fatal(err)
	}

	_, err := svc.ResendUnhandled(context.Background(), externalevent.SourceStripe, -time.Minute)
	if !errors.Is(err, jobqueue.ErrNoJobQueue) {
		t.Errorf("err = %v, want ErrNoJobQueue", err)
	}
}

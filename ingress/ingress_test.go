package ingress_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v72"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/engine"
	"github.com/polarsource/polar-sub002/externalevent"
	"github.com/polarsource/polar-sub002/ingress"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/store/memory"
	"github.com/polarsource/polar-sub002/subscription"
)

const secret = "whsec_test"

func init() { gin.SetMode(gin.TestMode) }

func newServer(t *testing.T) (*ingress.Server, *memory.Store) {
	t.Helper()
	s := memory.New()
	rt, err := polar.New(polar.WithStore(s))
	if err != nil {
		t.Fatalf("polar.New: %v", err)
	}
	eng, err := engine.Build(rt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	noop := func(context.Context, externalevent.Payload) error { return nil }
	if err := engine.Register(context.Background(), eng, job.NewActor(subscription.TaskStripeUpdate, noop)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	events := externalevent.NewService(s, s, nil)
	return ingress.New(events, eng, secret), s
}

func stripeEvent(eventID, eventType string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"object":"event","type":%q,"api_version":%q,"created":%d,"data":{"object":{"id":"sub_123","object":"subscription","status":"active"}}}`,
		eventID, eventType, stripe.APIVersion, time.Now().Unix(),
	))
}

func sign(payload []byte, key string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(key))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func post(srv *ingress.Server, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, ingress.StripeWebhookPath, bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookAccepted(t *testing.T) {
	srv, s := newServer(t)
	payload := stripeEvent("evt_1", "customer.subscription.updated")

	rec := post(srv, payload, sign(payload, secret))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	events, err := s.ListUnhandledExternalEvents(context.Background(), externalevent.SourceStripe, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ListUnhandledExternalEvents: %v", err)
	}
	if len(events) != 1 || events[0].ExternalID != "evt_1" || events[0].Task != subscription.TaskStripeUpdate {
		t.Fatalf("events = %+v", events)
	}

	jobs, err := s.ListJobsByState(context.Background(), job.StatePending, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobsByState: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != subscription.TaskStripeUpdate {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].Queue != polar.QueueHighPriority {
		t.Errorf("queue = %q, want %q", jobs[0].Queue, polar.QueueHighPriority)
	}
}

func TestStripeWebhookDuplicate(t *testing.T) {
	srv, s := newServer(t)
	payload := stripeEvent("evt_dup", "customer.subscription.created")

	if rec := post(srv, payload, sign(payload, secret)); rec.Code != http.StatusAccepted {
		t.Fatalf("first status = %d", rec.Code)
	}
	if rec := post(srv, payload, sign(payload, secret)); rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d", rec.Code)
	}

	n, err := s.CountJobs(context.Background(), job.CountOpts{})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("CountJobs = %d, want 1", n)
	}
}

func TestStripeWebhookBadSignature(t *testing.T) {
	srv, s := newServer(t)
	payload := stripeEvent("evt_bad", "customer.subscription.updated")

	if rec := post(srv, payload, sign(payload, "whsec_other")); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if rec := post(srv, payload, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("unsigned status = %d, want 400", rec.Code)
	}
	n, _ := s.CountJobs(context.Background(), job.CountOpts{})
	if n != 0 {
		t.Errorf("CountJobs = %d, want 0", n)
	}
}

func TestStripeWebhookOversizedBody(t *testing.T) {
	srv, s := newServer(t)
	payload := []byte(fmt.Sprintf(
		`{"id":"evt_big","object":"event","type":"customer.subscription.updated","api_version":%q,"created":%d,"data":{"object":{"id":"sub_123","description":%q}}}`,
		stripe.APIVersion, time.Now().Unix(), strings.Repeat("x", 1<<20),
	))

	if rec := post(srv, payload, sign(payload, secret)); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	n, _ := s.CountJobs(context.Background(), job.CountOpts{})
	if n != 0 {
		t.Errorf("CountJobs = %d, want 0", n)
	}
}

func TestStripeWebhookIgnoredType(t *testing.T) {
	srv, s := newServer(t)
	payload := stripeEvent("evt_other", "invoice.created")

	if rec := post(srv, payload, sign(payload, secret)); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	events, _ := s.ListUnhandledExternalEvents(context.Background(), externalevent.SourceStripe, time.Now().Add(time.Minute))
	if len(events) != 0 {
		t.Errorf("ignored type was stored: %+v", events)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/api"
	"github.com/polarsource/polar-sub002/dlq"
	"github.com/polarsource/polar-sub002/engine"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/store/memory"
)

func init() { gin.SetMode(gin.TestMode) }

type payload struct {
	OrderID string `json:"order_id"`
}

func newAPI(t *testing.T) (*engine.Engine, http.Handler) {
	t.Helper()
	rt, err := polar.New(polar.WithStore(memory.New()))
	if err != nil {
		t.Fatalf("polar.New: %v", err)
	}
	eng, err := engine.Build(rt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	noop := func(context.Context, payload) error { return nil }
	if err := engine.Register(context.Background(), eng, job.NewActor("order.created", noop)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return eng, api.New(eng).Handler()
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetJob(t *testing.T) {
	eng, h := newAPI(t)
	j, err := engine.Enqueue(context.Background(), eng, "order.created", payload{OrderID: "order_1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	rec := do(t, h, http.MethodGet, api.BasePath+"/jobs/"+j.ID.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got job.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "order.created" {
		t.Errorf("name = %q", got.Name)
	}
}

func TestGetJob_Errors(t *testing.T) {
	_, h := newAPI(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"malformed id", api.BasePath + "/jobs/not-an-id", http.StatusBadRequest},
		{"unknown job", api.BasePath + "/jobs/job_01h2xcejqtf2nbrexx3vqjhp41", http.StatusNotFound},
		{"bad limit", api.BasePath + "/jobs?limit=0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodGet, tt.path); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCancelJob(t *testing.T) {
	eng, h := newAPI(t)
	ctx := context.Background()
	j, err := engine.Enqueue(ctx, eng, "order.created", payload{OrderID: "order_1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	path := api.BasePath + "/jobs/" + j.ID.String() + "/cancel"
	if rec := do(t, h, http.MethodPost, path); rec.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d, body %s", rec.Code, rec.Body)
	}
	got, err := eng.JobStore().GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != job.StateCancelled {
		t.Errorf("state = %s, want cancelled", got.State)
	}

	if rec := do(t, h, http.MethodPost, path); rec.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", rec.Code)
	}
}

func TestDLQ_ListAndReplay(t *testing.T) {
	eng, h := newAPI(t)
	ctx := context.Background()

	j, err := engine.Enqueue(ctx, eng, "order.created", payload{OrderID: "order_1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := eng.DLQService().Push(ctx, j, errors.New("boom")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	rec := do(t, h, http.MethodGet, api.BasePath+"/dlq")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var entries []dlq.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}

	rec = do(t, h, http.MethodPost, api.BasePath+"/dlq/"+entries[0].ID.String()+"/replay")
	if rec.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, body %s", rec.Code, rec.Body)
	}
	var replayed job.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &replayed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if replayed.State != job.StatePending || replayed.Name != "order.created" {
		t.Errorf("replayed = %s %s", replayed.Name, replayed.State)
	}
}

func TestStats(t *testing.T) {
	eng, h := newAPI(t)
	for range 3 {
		if _, err := engine.Enqueue(context.Background(), eng, "order.created", payload{}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	rec := do(t, h, http.MethodGet, api.BasePath+"/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Jobs     map[string]int64 `json:"jobs"`
		DLQCount int64            `json:"dlq_count"`
		Actors   int              `json:"actors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Jobs["pending"] != 3 {
		t.Errorf("pending = %d, want 3", got.Jobs["pending"])
	}
	if got.Actors != 1 {
		t.Errorf("actors = %d, want 1", got.Actors)
	}
}

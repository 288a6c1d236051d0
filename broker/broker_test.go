package broker_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/polarsource/polar-sub002/broker"
	"github.com/polarsource/polar-sub002/jobqueue"
)

func TestEnqueueBuffersPublish(t *testing.T) {
	ctx, m := jobqueue.Open(context.Background())

	if err := broker.Enqueue(ctx, "order.created", "org_1", map[string]int{"total": 100}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	pending := m.Pending()
	if len(pending) != 1 || pending[0].Name != broker.TaskPublish {
		t.Fatalf("pending = %+v, want one %s job", pending, broker.TaskPublish)
	}
	var msg broker.Message
	if err := json.Unmarshal(pending[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Topic != "order.created" || msg.Key != "org_1" {
		t.Errorf("message = %+v", msg)
	}
}

func TestEnqueueWithoutBuffer(t *testing.T) {
	if err := broker.Enqueue(context.Background(), "t", "", 1); err == nil {
		t.Fatal("expected error without an open job queue")
	}
}

func TestActorPublishes(t *testing.T) {
	mem := broker.NewMemory()
	a := broker.Actor(mem)

	msg := broker.Message{Topic: "subscription.updated", Data: json.RawMessage(`{"id":"sub_1"}`)}
	if err := a.Handler(context.Background(), msg); err != nil {
		t.Fatalf("Handler: %v", err)
	}

	got := mem.Messages()
	if len(got) != 1 || got[0].Topic != "subscription.updated" || string(got[0].Data) != `{"id":"sub_1"}` {
		t.Fatalf("messages = %+v", got)
	}
}

func TestNewSelectsMemory(t *testing.T) {
	b, err := broker.New(context.Background(), broker.Settings{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := b.(*broker.Memory); !ok {
		t.Fatalf("New() = %T, want *broker.Memory", b)
	}
	if _, err := broker.New(context.Background(), broker.Settings{Type: "kafka"}); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

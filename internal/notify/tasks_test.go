package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
)

type captureDeliverer struct {
	events []Event
}

func (c *captureDeliverer) Deliver(ctx context.Context, event Event) {
	c.events = append(c.events, event)
}

func TestDeliverHandler(t *testing.T) {
	deliverer := &captureDeliverer{}
	handler := NewDeliverHandler(deliverer)

	event := testEvent(KindTurnApproaching)
	task, err := NewDeliverTask(event)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type() != TypeDeliver {
		t.Fatalf("unexpected task type %s", task.Type())
	}
	if err := handler.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(deliverer.events) != 1 || deliverer.events[0].EventID != event.EventID || deliverer.events[0].PeopleAhead != 1 {
		t.Fatalf("unexpected delivered events %+v", deliverer.events)
	}
}

func TestDeliverHandlerSkipsRetryOnBadPayload(t *testing.T) {
	handler := NewDeliverHandler(&captureDeliverer{})
	err := handler.ProcessTask(context.Background(), asynq.NewTask(TypeDeliver, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected skip retry, got %v", err)
	}
}

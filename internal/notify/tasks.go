package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	TypeDeliver     = "notify:deliver"
	TypeSweepMissed = "queue:sweep-missed"
)

// TaskEnqueuer hands events to the notification worker through asynq. Tasks
// are enqueued with no retries so each event is attempted at most once.
type TaskEnqueuer struct {
	client *asynq.Client
	queue  string
}

func NewTaskEnqueuer(client *asynq.Client, queue string) *TaskEnqueuer {
	if queue == "" {
		queue = "notifications"
	}
	return &TaskEnqueuer{client: client, queue: queue}
}

func (e *TaskEnqueuer) Name() string {
	return "asynq"
}

func (e *TaskEnqueuer) Recipient(ctx context.Context, event Event) (string, error) {
	return e.queue, nil
}

func (e *TaskEnqueuer) Send(ctx context.Context, event Event, recipient string) error {
	task, err := NewDeliverTask(event)
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, task, asynq.Queue(recipient), asynq.MaxRetry(0), asynq.TaskID(event.EventID))
	return err
}

func NewDeliverTask(event Event) (*asynq.Task, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDeliver, payload), nil
}

type Deliverer interface {
	Deliver(ctx context.Context, event Event)
}

// NewDeliverHandler runs every channel for a handed-off event. Channel
// failures are logged by the deliverer and never fail the task.
func NewDeliverHandler(d Deliverer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var event Event
		if err := json.Unmarshal(t.Payload(), &event); err != nil {
			return fmt.Errorf("decode %s payload: %v: %w", TypeDeliver, err, asynq.SkipRetry)
		}
		d.Deliver(ctx, event)
		return nil
	}
}

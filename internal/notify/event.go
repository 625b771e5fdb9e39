// Package notify turns ticketing lifecycle events into email, push and
// broker notifications. Delivery never reports back to the operation that
// raised the event.
package notify

import (
	"context"
	"time"

	"skipline/internal/models"

	"github.com/google/uuid"
)

const (
	KindQueueJoined     = "queue.joined"
	KindTurnApproaching = "turn.approaching"
	KindYourTurn        = "turn.yours"
)

type Event struct {
	EventID       string    `json:"event_id"`
	Kind          string    `json:"kind"`
	QueueID       string    `json:"queue_id"`
	QueueName     string    `json:"queue_name"`
	EntryID       string    `json:"entry_id"`
	HolderName    string    `json:"holder_name"`
	Phone         string    `json:"phone"`
	Email         string    `json:"email,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Position      int       `json:"position"`
	PeopleAhead   int       `json:"people_ahead"`
	EstimatedWait int       `json:"estimated_wait"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Emitter accepts events. Emit must return promptly and must not fail the
// caller.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

type discard struct{}

func (discard) Emit(ctx context.Context, event Event) {}

// Discard drops every event.
var Discard Emitter = discard{}

func newEvent(kind string, queue models.Queue, entry models.Entry, at time.Time) Event {
	return Event{
		EventID:       uuid.NewString(),
		Kind:          kind,
		QueueID:       queue.QueueID,
		QueueName:     queue.Name,
		EntryID:       entry.EntryID,
		HolderName:    entry.HolderName,
		Phone:         entry.Phone,
		Email:         entry.Email,
		UserID:        entry.UserID,
		Position:      entry.Position,
		EstimatedWait: entry.EstimatedWait,
		OccurredAt:    at.UTC(),
	}
}

func QueueJoined(queue models.Queue, entry models.Entry, at time.Time) Event {
	return newEvent(KindQueueJoined, queue, entry, at)
}

func TurnApproaching(queue models.Queue, entry models.Entry, peopleAhead int, at time.Time) Event {
	event := newEvent(KindTurnApproaching, queue, entry, at)
	event.PeopleAhead = peopleAhead
	return event
}

func YourTurn(queue models.Queue, entry models.Entry, at time.Time) Event {
	return newEvent(KindYourTurn, queue, entry, at)
}

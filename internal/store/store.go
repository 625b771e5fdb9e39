package store

import (
	"context"
	"time"

	"skipline/internal/models"
)

type CreateQueueInput struct {
	OwnerID          string
	Name             string
	Description      string
	Category         string
	MaxCapacity      int
	PerPersonMinutes int
	CreatedAt        time.Time
}

// UpdateQueueInput carries a partial update; nil fields are left unchanged.
type UpdateQueueInput struct {
	QueueID          string
	Name             *string
	Description      *string
	Category         *string
	MaxCapacity      *int
	PerPersonMinutes *int
	Active           *bool
	UpdatedAt        time.Time
}

type JoinInput struct {
	QueueID    string
	HolderName string
	Phone      string
	Email      string
	UserID     string
	Notes      string
	JoinedAt   time.Time
}

type CallNextInput struct {
	QueueID  string
	CalledAt time.Time
}

type EntryActionInput struct {
	EntryID    string
	OccurredAt time.Time
}

// ExpireCalledInput selects entries called before Cutoff. Their missed events
// are stamped with OccurredAt.
type ExpireCalledInput struct {
	Cutoff     time.Time
	OccurredAt time.Time
	Limit      int
}

type JoinResult struct {
	Entry models.Entry
	Queue models.Queue
}

type CallResult struct {
	Entry models.Entry
	Queue models.Queue
}

type TransitionResult struct {
	Entry models.Entry
	Queue models.Queue
}

// Upcoming is a waiting entry together with the number of waiting entries
// ahead of it.
type Upcoming struct {
	Entry       models.Entry
	PeopleAhead int
}

type QueueSummary struct {
	QueueID                string `json:"queue_id"`
	Name                   string `json:"name"`
	Active                 bool   `json:"active"`
	CurrentServingPosition int    `json:"current_serving_position"`
	PerPersonMinutes       int    `json:"per_person_minutes"`
}

type Lookup struct {
	Entry       models.Entry `json:"entry"`
	PeopleAhead int          `json:"people_ahead"`
	Queue       QueueSummary `json:"queue"`
}

type Stats struct {
	Waiting                int `json:"waiting"`
	Called                 int `json:"called"`
	Served                 int `json:"served"`
	Missed                 int `json:"missed"`
	Cancelled              int `json:"cancelled"`
	CurrentServingPosition int `json:"current_serving_position"`
	TotalServed            int `json:"total_served"`
}

// TicketStore is the durable home of queues and entries. Join, CallNext and
// SkipTo are serialized per queue by every implementation.
type TicketStore interface {
	CreateQueue(ctx context.Context, input CreateQueueInput) (models.Queue, error)
	UpdateQueue(ctx context.Context, input UpdateQueueInput) (models.Queue, error)
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	ListActiveQueues(ctx context.Context) ([]models.Queue, error)
	ListEntries(ctx context.Context, queueID string) ([]models.Entry, error)
	GetEntry(ctx context.Context, entryID string) (models.Entry, error)
	Join(ctx context.Context, input JoinInput) (JoinResult, error)
	CallNext(ctx context.Context, input CallNextInput) (CallResult, error)
	MarkServed(ctx context.Context, input EntryActionInput) (TransitionResult, error)
	MarkMissed(ctx context.Context, input EntryActionInput) (TransitionResult, error)
	Cancel(ctx context.Context, input EntryActionInput) (TransitionResult, error)
	SkipTo(ctx context.Context, input EntryActionInput) (models.Queue, error)
	Upcoming(ctx context.Context, queueID string, cursor, window int) ([]Upcoming, error)
	Lookup(ctx context.Context, queueID, phone string) (Lookup, error)
	Stats(ctx context.Context, queueID string) (Stats, error)
	ListEntryEvents(ctx context.Context, entryID string) ([]EntryEvent, error)
	ExpireCalled(ctx context.Context, input ExpireCalledInput) ([]models.Entry, error)
}

type Session struct {
	SessionID string
	UserID    string
	Role      string
	ExpiresAt time.Time
}

type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (Session, error)
}

type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, sub models.PushSubscription) error
	GetSubscription(ctx context.Context, userID string) (models.PushSubscription, error)
	RemoveSubscription(ctx context.Context, userID string) error
}

type Notification struct {
	NotificationID string
	EntryID        string
	EventType      string
	Channel        string
	Recipient      string
	Status         string
	Attempts       int
	LastError      string
	CreatedAt      time.Time
}

// DeliveryLog records each notification channel attempt.
type DeliveryLog interface {
	InsertNotification(ctx context.Context, notification Notification) error
	MarkNotificationSent(ctx context.Context, notificationID string) error
	MarkNotificationFailed(ctx context.Context, notificationID, lastError string) error
}

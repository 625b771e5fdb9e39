// Package ticketing is the admission-control core: it allocates positions,
// advances the serving cursor, drives entry transitions and raises
// notification events once a transition has committed.
package ticketing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"skipline/internal/models"
	"skipline/internal/notify"
	"skipline/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("skipline/ticketing")

type Options struct {
	// ApproachWindow is how many positions past the cursor are scanned for
	// turn-approaching notices after a call.
	ApproachWindow int
	// ApproachThreshold is the largest peopleAhead that still gets a notice.
	// Zero notifies only the next person; a negative value selects the
	// default of 2.
	ApproachThreshold int
	FrontendURL       string
	Now               func() time.Time
	Logger            *slog.Logger
}

type Service struct {
	store     store.TicketStore
	subs      store.SubscriptionStore
	emitter   notify.Emitter
	window    int
	threshold int
	frontend  string
	now       func() time.Time
	logger    *slog.Logger
}

func New(tickets store.TicketStore, subs store.SubscriptionStore, emitter notify.Emitter, opts Options) *Service {
	if emitter == nil {
		emitter = notify.Discard
	}
	window := opts.ApproachWindow
	if window <= 0 {
		window = 3
	}
	threshold := opts.ApproachThreshold
	if threshold < 0 {
		threshold = 2
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     tickets,
		subs:      subs,
		emitter:   emitter,
		window:    window,
		threshold: threshold,
		frontend:  strings.TrimRight(opts.FrontendURL, "/"),
		now:       now,
		logger:    logger,
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ticketing."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil && store.KindOf(err) == store.KindInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) CreateQueue(ctx context.Context, ownerID string, cfg QueueConfig) (queue models.Queue, err error) {
	ctx, span := startSpan(ctx, "CreateQueue", attribute.String("owner_id", ownerID))
	defer func() { endSpan(span, err) }()

	if ownerID == "" {
		return models.Queue{}, store.ErrNotOwner
	}
	if err = cfg.normalize(); err != nil {
		return models.Queue{}, err
	}
	return s.store.CreateQueue(ctx, store.CreateQueueInput{
		OwnerID:          ownerID,
		Name:             cfg.Name,
		Description:      cfg.Description,
		Category:         cfg.Category,
		MaxCapacity:      cfg.MaxCapacity,
		PerPersonMinutes: cfg.PerPersonMinutes,
		CreatedAt:        s.now(),
	})
}

func (s *Service) UpdateQueue(ctx context.Context, queueID, ownerID string, update QueueUpdate) (queue models.Queue, err error) {
	ctx, span := startSpan(ctx, "UpdateQueue", attribute.String("queue_id", queueID))
	defer func() { endSpan(span, err) }()

	if err = update.validate(); err != nil {
		return models.Queue{}, err
	}
	if _, err = s.RequireQueueOwner(ctx, queueID, ownerID); err != nil {
		return models.Queue{}, err
	}
	return s.store.UpdateQueue(ctx, store.UpdateQueueInput{
		QueueID:          queueID,
		Name:             update.Name,
		Description:      update.Description,
		Category:         update.Category,
		MaxCapacity:      update.MaxCapacity,
		PerPersonMinutes: update.PerPersonMinutes,
		Active:           update.Active,
		UpdatedAt:        s.now(),
	})
}

// DeactivateQueue soft-deletes a queue. Existing entries are kept for stats.
func (s *Service) DeactivateQueue(ctx context.Context, queueID, ownerID string) (err error) {
	ctx, span := startSpan(ctx, "DeactivateQueue", attribute.String("queue_id", queueID))
	defer func() { endSpan(span, err) }()

	if _, err = s.RequireQueueOwner(ctx, queueID, ownerID); err != nil {
		return err
	}
	inactive := false
	_, err = s.store.UpdateQueue(ctx, store.UpdateQueueInput{QueueID: queueID, Active: &inactive, UpdatedAt: s.now()})
	return err
}

func (s *Service) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	return s.store.GetQueue(ctx, queueID)
}

func (s *Service) ListActiveQueues(ctx context.Context) ([]models.Queue, error) {
	return s.store.ListActiveQueues(ctx)
}

// ListEntries returns every entry of the queue, in position order, for its
// owner.
func (s *Service) ListEntries(ctx context.Context, queueID, ownerID string) ([]models.Entry, error) {
	if _, err := s.RequireQueueOwner(ctx, queueID, ownerID); err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, queueID)
}

// ActiveEntries returns the waiting and called entries of a queue.
func (s *Service) ActiveEntries(ctx context.Context, queueID string) ([]models.Entry, error) {
	entries, err := s.store.ListEntries(ctx, queueID)
	if err != nil {
		return nil, err
	}
	active := entries[:0]
	for _, entry := range entries {
		if entry.Active() {
			active = append(active, entry)
		}
	}
	return active, nil
}

func (s *Service) GetEntry(ctx context.Context, entryID string) (models.Entry, error) {
	return s.store.GetEntry(ctx, entryID)
}

func (s *Service) Join(ctx context.Context, req JoinRequest) (entry models.Entry, err error) {
	ctx, span := startSpan(ctx, "Join", attribute.String("queue_id", req.QueueID))
	defer func() { endSpan(span, err) }()

	if err = req.normalize(); err != nil {
		return models.Entry{}, err
	}
	result, err := s.store.Join(ctx, store.JoinInput{
		QueueID:    req.QueueID,
		HolderName: req.HolderName,
		Phone:      req.Phone,
		Email:      req.Email,
		UserID:     req.UserID,
		Notes:      req.Notes,
		JoinedAt:   s.now(),
	})
	if err != nil {
		return models.Entry{}, err
	}
	span.SetAttributes(attribute.Int("position", result.Entry.Position))
	s.emitter.Emit(ctx, notify.QueueJoined(result.Queue, result.Entry, s.now()))
	return result.Entry, nil
}

// CallNext calls the next waiting entry, then notifies it and the entries
// close behind it.
func (s *Service) CallNext(ctx context.Context, queueID, ownerID string) (entry models.Entry, err error) {
	ctx, span := startSpan(ctx, "CallNext", attribute.String("queue_id", queueID))
	defer func() { endSpan(span, err) }()

	if _, err = s.RequireQueueOwner(ctx, queueID, ownerID); err != nil {
		return models.Entry{}, err
	}
	result, err := s.store.CallNext(ctx, store.CallNextInput{QueueID: queueID, CalledAt: s.now()})
	if err != nil {
		return models.Entry{}, err
	}
	span.SetAttributes(attribute.Int("position", result.Entry.Position))

	s.emitter.Emit(ctx, notify.YourTurn(result.Queue, result.Entry, s.now()))
	s.notifyApproaching(ctx, result.Queue)
	return result.Entry, nil
}

func (s *Service) notifyApproaching(ctx context.Context, queue models.Queue) {
	upcoming, err := s.store.Upcoming(ctx, queue.QueueID, queue.CurrentServingPosition, s.window)
	if err != nil {
		s.logger.Error("approaching lookup failed", "queue_id", queue.QueueID, "error", err)
		return
	}
	for _, item := range upcoming {
		if item.PeopleAhead > s.threshold {
			continue
		}
		s.emitter.Emit(ctx, notify.TurnApproaching(queue, item.Entry, item.PeopleAhead, s.now()))
	}
}

func (s *Service) MarkServed(ctx context.Context, entryID string) (entry models.Entry, err error) {
	ctx, span := startSpan(ctx, "MarkServed", attribute.String("entry_id", entryID))
	defer func() { endSpan(span, err) }()

	result, err := s.store.MarkServed(ctx, store.EntryActionInput{EntryID: entryID, OccurredAt: s.now()})
	return result.Entry, err
}

func (s *Service) MarkMissed(ctx context.Context, entryID string) (entry models.Entry, err error) {
	ctx, span := startSpan(ctx, "MarkMissed", attribute.String("entry_id", entryID))
	defer func() { endSpan(span, err) }()

	result, err := s.store.MarkMissed(ctx, store.EntryActionInput{EntryID: entryID, OccurredAt: s.now()})
	return result.Entry, err
}

func (s *Service) Cancel(ctx context.Context, entryID string) (err error) {
	ctx, span := startSpan(ctx, "Cancel", attribute.String("entry_id", entryID))
	defer func() { endSpan(span, err) }()

	_, err = s.store.Cancel(ctx, store.EntryActionInput{EntryID: entryID, OccurredAt: s.now()})
	return err
}

// CancelInQueue cancels an entry on behalf of its holder, who only knows the
// queue and entry ids.
func (s *Service) CancelInQueue(ctx context.Context, queueID, entryID string) error {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.QueueID != queueID {
		return store.ErrEntryNotFound
	}
	return s.Cancel(ctx, entryID)
}

// SkipTo points the cursor just before the entry so the next call selects it.
// Entry statuses are left alone.
func (s *Service) SkipTo(ctx context.Context, entryID string) (err error) {
	ctx, span := startSpan(ctx, "SkipTo", attribute.String("entry_id", entryID))
	defer func() { endSpan(span, err) }()

	_, err = s.store.SkipTo(ctx, store.EntryActionInput{EntryID: entryID, OccurredAt: s.now()})
	return err
}

type Position struct {
	Entry       models.Entry       `json:"entry"`
	PeopleAhead int                `json:"people_ahead"`
	DisplayWait int                `json:"display_wait"`
	Queue       store.QueueSummary `json:"queue"`
}

// Lookup finds the holder's active entry by phone and computes a live wait.
// Finished and cancelled entries are not found.
func (s *Service) Lookup(ctx context.Context, queueID, phone string) (pos Position, err error) {
	ctx, span := startSpan(ctx, "Lookup", attribute.String("queue_id", queueID))
	defer func() { endSpan(span, err) }()

	lookup, err := s.store.Lookup(ctx, queueID, phone)
	if err != nil {
		return Position{}, err
	}
	return Position{
		Entry:       lookup.Entry,
		PeopleAhead: lookup.PeopleAhead,
		DisplayWait: store.DisplayWait(lookup.PeopleAhead, lookup.Queue.PerPersonMinutes),
		Queue:       lookup.Queue,
	}, nil
}

func (s *Service) Stats(ctx context.Context, queueID string) (store.Stats, error) {
	return s.store.Stats(ctx, queueID)
}

type History struct {
	Events []store.EntryEvent `json:"events"`
	// BrokenAt is the 1-based index of the first event that fails
	// verification, zero when the chain is intact.
	BrokenAt int  `json:"broken_at"`
	Verified bool `json:"verified"`
	// Replayed is the entry rebuilt from Events. Consistent reports whether
	// it agrees with the stored entry's status and position.
	Replayed   models.Entry `json:"replayed"`
	Consistent bool         `json:"consistent"`
}

func (s *Service) EntryHistory(ctx context.Context, entryID string) (History, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return History{}, err
	}
	events, err := s.store.ListEntryEvents(ctx, entryID)
	if err != nil {
		return History{}, err
	}
	history := History{Events: events}
	history.BrokenAt, history.Verified = store.VerifyEntryEvents(events)
	if len(events) == 0 {
		history.Verified = false
	}
	if !history.Verified {
		s.logger.Warn("entry history failed verification", "entry_id", entryID, "index", history.BrokenAt, "events", len(events))
	}

	replayed, err := store.RehydrateEntry(events)
	if err != nil {
		s.logger.Warn("entry history replay failed", "entry_id", entryID, "error", err)
		return history, nil
	}
	history.Replayed = replayed
	history.Consistent = replayed.EntryID == entry.EntryID &&
		replayed.Status == entry.Status &&
		replayed.Position == entry.Position
	if !history.Consistent {
		s.logger.Warn("entry history drifted from stored entry", "entry_id", entryID,
			"stored_status", entry.Status, "replayed_status", replayed.Status)
	}
	return history, nil
}

func (s *Service) RequireQueueOwner(ctx context.Context, queueID, ownerID string) (models.Queue, error) {
	queue, err := s.store.GetQueue(ctx, queueID)
	if err != nil {
		return models.Queue{}, err
	}
	if ownerID == "" || queue.OwnerID != ownerID {
		return models.Queue{}, store.ErrNotOwner
	}
	return queue, nil
}

// RequireEntryOwner checks that ownerID owns the queue the entry belongs to.
func (s *Service) RequireEntryOwner(ctx context.Context, entryID, ownerID string) (models.Entry, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return models.Entry{}, err
	}
	if _, err := s.RequireQueueOwner(ctx, entry.QueueID, ownerID); err != nil {
		return models.Entry{}, err
	}
	return entry, nil
}

// JoinURL is the public page a queue's QR code points at.
func (s *Service) JoinURL(queueID string) string {
	return fmt.Sprintf("%s/queue/%s/join", s.frontend, queueID)
}

// SweepMissed marks entries that stayed called longer than grace as missed.
func (s *Service) SweepMissed(ctx context.Context, grace time.Duration, limit int) (count int, err error) {
	if grace <= 0 {
		return 0, nil
	}
	ctx, span := startSpan(ctx, "SweepMissed")
	defer func() { endSpan(span, err) }()

	now := s.now()
	expired, err := s.store.ExpireCalled(ctx, store.ExpireCalledInput{
		Cutoff:     now.Add(-grace),
		OccurredAt: now,
		Limit:      limit,
	})
	if err != nil {
		return 0, err
	}
	for _, entry := range expired {
		s.logger.Info("entry auto missed", "entry_id", entry.EntryID, "queue_id", entry.QueueID, "position", entry.Position)
	}
	span.SetAttributes(attribute.Int("expired", len(expired)))
	return len(expired), nil
}

func (s *Service) SaveSubscription(ctx context.Context, sub models.PushSubscription) error {
	if s.subs == nil {
		return errors.New("push subscriptions are not configured")
	}
	if sub.UserID == "" || sub.Endpoint == "" {
		return store.Invalid("subscription requires a user and an endpoint")
	}
	if sub.Channel == "" {
		sub.Channel = notify.UserChannel(sub.UserID)
	}
	sub.CreatedAt = s.now()
	return s.subs.SaveSubscription(ctx, sub)
}

func (s *Service) RemoveSubscription(ctx context.Context, userID string) error {
	if s.subs == nil {
		return errors.New("push subscriptions are not configured")
	}
	return s.subs.RemoveSubscription(ctx, userID)
}

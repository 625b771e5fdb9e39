// Package memory is an in-process TicketStore used by tests and by the
// service when STORE_DRIVER=memory. Each queue is guarded by its own mutex,
// so joins and calls on different queues never contend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"skipline/internal/models"
	"skipline/internal/store"

	"github.com/google/uuid"
)

type queueState struct {
	mu      sync.Mutex
	queue   models.Queue
	entries []*models.Entry
	events  map[string][]store.EntryEvent
}

type Store struct {
	mu            sync.RWMutex
	queues        map[string]*queueState
	entryQueue    map[string]string
	sessions      map[string]store.Session
	subscriptions map[string]models.PushSubscription
	notifications map[string]store.Notification
	now           func() time.Time
}

func New() *Store {
	return &Store{
		queues:        make(map[string]*queueState),
		entryQueue:    make(map[string]string),
		sessions:      make(map[string]store.Session),
		subscriptions: make(map[string]models.PushSubscription),
		notifications: make(map[string]store.Notification),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t.UTC()
}

func (s *Store) queueState(queueID string) (*queueState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.queues[queueID]
	if !ok {
		return nil, store.ErrQueueNotFound
	}
	return state, nil
}

func (s *Store) entryState(entryID string) (*queueState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	queueID, ok := s.entryQueue[entryID]
	if !ok {
		return nil, store.ErrEntryNotFound
	}
	return s.queues[queueID], nil
}

func (q *queueState) find(entryID string) *models.Entry {
	for _, entry := range q.entries {
		if entry.EntryID == entryID {
			return entry
		}
	}
	return nil
}

func (q *queueState) appendEvent(entry models.Entry, eventType string, at time.Time) error {
	history := q.events[entry.EntryID]
	var prev *store.EntryEvent
	if len(history) > 0 {
		prev = &history[len(history)-1]
	}
	event, err := store.NextEntryEvent(prev, entry, eventType, at)
	if err != nil {
		return err
	}
	q.events[entry.EntryID] = append(history, event)
	return nil
}

func cloneEntry(entry *models.Entry) models.Entry {
	out := *entry
	if entry.CalledAt != nil {
		calledAt := *entry.CalledAt
		out.CalledAt = &calledAt
	}
	if entry.ServedAt != nil {
		servedAt := *entry.ServedAt
		out.ServedAt = &servedAt
	}
	return out
}

func (s *Store) CreateQueue(ctx context.Context, input store.CreateQueueInput) (models.Queue, error) {
	createdAt := s.timestamp(input.CreatedAt)
	queue := models.Queue{
		QueueID:          uuid.NewString(),
		Name:             input.Name,
		Description:      input.Description,
		Category:         input.Category,
		Active:           true,
		MaxCapacity:      input.MaxCapacity,
		PerPersonMinutes: input.PerPersonMinutes,
		OwnerID:          input.OwnerID,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	s.mu.Lock()
	s.queues[queue.QueueID] = &queueState{queue: queue, events: make(map[string][]store.EntryEvent)}
	s.mu.Unlock()
	return queue, nil
}

func (s *Store) UpdateQueue(ctx context.Context, input store.UpdateQueueInput) (models.Queue, error) {
	state, err := s.queueState(input.QueueID)
	if err != nil {
		return models.Queue{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	queue := &state.queue
	if input.Name != nil {
		queue.Name = *input.Name
	}
	if input.Description != nil {
		queue.Description = *input.Description
	}
	if input.Category != nil {
		queue.Category = *input.Category
	}
	if input.MaxCapacity != nil {
		queue.MaxCapacity = *input.MaxCapacity
	}
	if input.PerPersonMinutes != nil {
		queue.PerPersonMinutes = *input.PerPersonMinutes
	}
	if input.Active != nil {
		queue.Active = *input.Active
	}
	queue.UpdatedAt = s.timestamp(input.UpdatedAt)
	return *queue, nil
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	state, err := s.queueState(queueID)
	if err != nil {
		return models.Queue{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.queue, nil
}

func (s *Store) ListActiveQueues(ctx context.Context) ([]models.Queue, error) {
	s.mu.RLock()
	states := make([]*queueState, 0, len(s.queues))
	for _, state := range s.queues {
		states = append(states, state)
	}
	s.mu.RUnlock()

	queues := make([]models.Queue, 0, len(states))
	for _, state := range states {
		state.mu.Lock()
		if state.queue.Active {
			queues = append(queues, state.queue)
		}
		state.mu.Unlock()
	}
	sort.Slice(queues, func(i, j int) bool {
		return queues[i].CreatedAt.After(queues[j].CreatedAt)
	})
	return queues, nil
}

func (s *Store) ListEntries(ctx context.Context, queueID string) ([]models.Entry, error) {
	state, err := s.queueState(queueID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	entries := make([]models.Entry, 0, len(state.entries))
	for _, entry := range state.entries {
		entries = append(entries, cloneEntry(entry))
	}
	return entries, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.Entry, error) {
	state, err := s.entryState(entryID)
	if err != nil {
		return models.Entry{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	entry := state.find(entryID)
	if entry == nil {
		return models.Entry{}, store.ErrEntryNotFound
	}
	return cloneEntry(entry), nil
}

func (s *Store) Join(ctx context.Context, input store.JoinInput) (store.JoinResult, error) {
	state, err := s.queueState(input.QueueID)
	if err != nil {
		return store.JoinResult{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.queue.Active {
		return store.JoinResult{}, store.ErrQueueInactive
	}
	waiting := 0
	for _, entry := range state.entries {
		if entry.Active() && entry.Phone == input.Phone {
			return store.JoinResult{}, &store.AlreadyInQueueError{Entry: cloneEntry(entry)}
		}
		if entry.Status == models.StatusWaiting {
			waiting++
		}
	}
	if waiting >= state.queue.MaxCapacity {
		return store.JoinResult{}, store.ErrQueueFull
	}

	joinedAt := s.timestamp(input.JoinedAt)
	state.queue.LastPosition++
	position := state.queue.LastPosition
	entry := &models.Entry{
		EntryID:       uuid.NewString(),
		QueueID:       input.QueueID,
		HolderName:    input.HolderName,
		Phone:         input.Phone,
		Email:         input.Email,
		UserID:        input.UserID,
		Position:      position,
		Status:        models.StatusWaiting,
		EstimatedWait: store.EstimateWait(position, state.queue.CurrentServingPosition, state.queue.PerPersonMinutes),
		Notes:         input.Notes,
		JoinedAt:      joinedAt,
	}
	if err := state.appendEvent(*entry, "entry.joined", joinedAt); err != nil {
		state.queue.LastPosition--
		return store.JoinResult{}, err
	}
	state.entries = append(state.entries, entry)

	s.mu.Lock()
	s.entryQueue[entry.EntryID] = input.QueueID
	s.mu.Unlock()

	return store.JoinResult{Entry: cloneEntry(entry), Queue: state.queue}, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (store.CallResult, error) {
	state, err := s.queueState(input.QueueID)
	if err != nil {
		return store.CallResult{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	var next *models.Entry
	for _, entry := range state.entries {
		if entry.Status != models.StatusWaiting || entry.Position <= state.queue.CurrentServingPosition {
			continue
		}
		if next == nil || entry.Position < next.Position {
			next = entry
		}
	}
	if next == nil {
		return store.CallResult{}, store.ErrNothingWaiting
	}

	calledAt := s.timestamp(input.CalledAt)
	called := cloneEntry(next)
	called.Status = models.StatusCalled
	called.CalledAt = &calledAt
	if err := state.appendEvent(called, store.EventType(store.ActionCallNext), calledAt); err != nil {
		return store.CallResult{}, err
	}
	*next = called
	state.queue.CurrentServingPosition = next.Position
	state.queue.UpdatedAt = calledAt
	return store.CallResult{Entry: cloneEntry(next), Queue: state.queue}, nil
}

func (s *Store) transition(input store.EntryActionInput, action string) (store.TransitionResult, error) {
	state, err := s.entryState(input.EntryID)
	if err != nil {
		return store.TransitionResult{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	entry := state.find(input.EntryID)
	if entry == nil {
		return store.TransitionResult{}, store.ErrEntryNotFound
	}
	if !store.ValidTransition(action, entry.Status) {
		return store.TransitionResult{}, store.ErrInvalidTransition
	}

	occurredAt := s.timestamp(input.OccurredAt)
	next := cloneEntry(entry)
	next.Status = store.TargetStatus(action)
	if action == store.ActionServe {
		next.ServedAt = &occurredAt
	}
	if err := state.appendEvent(next, store.EventType(action), occurredAt); err != nil {
		return store.TransitionResult{}, err
	}
	*entry = next
	if action == store.ActionServe {
		state.queue.TotalServed++
		state.queue.UpdatedAt = occurredAt
	}
	return store.TransitionResult{Entry: cloneEntry(entry), Queue: state.queue}, nil
}

func (s *Store) MarkServed(ctx context.Context, input store.EntryActionInput) (store.TransitionResult, error) {
	return s.transition(input, store.ActionServe)
}

func (s *Store) MarkMissed(ctx context.Context, input store.EntryActionInput) (store.TransitionResult, error) {
	return s.transition(input, store.ActionMiss)
}

func (s *Store) Cancel(ctx context.Context, input store.EntryActionInput) (store.TransitionResult, error) {
	return s.transition(input, store.ActionCancel)
}

func (s *Store) SkipTo(ctx context.Context, input store.EntryActionInput) (models.Queue, error) {
	state, err := s.entryState(input.EntryID)
	if err != nil {
		return models.Queue{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	entry := state.find(input.EntryID)
	if entry == nil {
		return models.Queue{}, store.ErrEntryNotFound
	}
	state.queue.CurrentServingPosition = entry.Position - 1
	state.queue.UpdatedAt = s.timestamp(input.OccurredAt)
	return state.queue, nil
}

func (s *Store) Upcoming(ctx context.Context, queueID string, cursor, window int) ([]store.Upcoming, error) {
	state, err := s.queueState(queueID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	waiting := make([]*models.Entry, 0)
	for _, entry := range state.entries {
		if entry.Status == models.StatusWaiting {
			waiting = append(waiting, entry)
		}
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].Position < waiting[j].Position })

	upcoming := make([]store.Upcoming, 0)
	for ahead, entry := range waiting {
		if entry.Position <= cursor || entry.Position > cursor+window {
			continue
		}
		upcoming = append(upcoming, store.Upcoming{Entry: cloneEntry(entry), PeopleAhead: ahead})
	}
	return upcoming, nil
}

func (s *Store) Lookup(ctx context.Context, queueID, phone string) (store.Lookup, error) {
	state, err := s.queueState(queueID)
	if err != nil {
		return store.Lookup{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	var found *models.Entry
	for _, entry := range state.entries {
		if entry.Phone == phone && entry.Active() {
			found = entry
			break
		}
	}
	if found == nil {
		return store.Lookup{}, store.ErrEntryNotFound
	}
	ahead := 0
	for _, entry := range state.entries {
		if entry.Status == models.StatusWaiting && entry.Position < found.Position {
			ahead++
		}
	}
	return store.Lookup{
		Entry:       cloneEntry(found),
		PeopleAhead: ahead,
		Queue:       summarize(state.queue),
	}, nil
}

func summarize(queue models.Queue) store.QueueSummary {
	return store.QueueSummary{
		QueueID:                queue.QueueID,
		Name:                   queue.Name,
		Active:                 queue.Active,
		CurrentServingPosition: queue.CurrentServingPosition,
		PerPersonMinutes:       queue.PerPersonMinutes,
	}
}

func (s *Store) Stats(ctx context.Context, queueID string) (store.Stats, error) {
	state, err := s.queueState(queueID)
	if err != nil {
		return store.Stats{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	stats := store.Stats{
		CurrentServingPosition: state.queue.CurrentServingPosition,
		TotalServed:            state.queue.TotalServed,
	}
	for _, entry := range state.entries {
		switch entry.Status {
		case models.StatusWaiting:
			stats.Waiting++
		case models.StatusCalled:
			stats.Called++
		case models.StatusServed:
			stats.Served++
		case models.StatusMissed:
			stats.Missed++
		case models.StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

func (s *Store) ListEntryEvents(ctx context.Context, entryID string) ([]store.EntryEvent, error) {
	state, err := s.entryState(entryID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	history := state.events[entryID]
	out := make([]store.EntryEvent, len(history))
	copy(out, history)
	return out, nil
}

// ExpireCalled marks entries called before cutoff as missed, up to limit
// entries across all queues.
func (s *Store) ExpireCalled(ctx context.Context, input store.ExpireCalledInput) ([]models.Entry, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 100
	}
	cutoff := input.Cutoff
	occurredAt := s.timestamp(input.OccurredAt)
	s.mu.RLock()
	states := make([]*queueState, 0, len(s.queues))
	for _, state := range s.queues {
		states = append(states, state)
	}
	s.mu.RUnlock()

	expired := make([]models.Entry, 0)
	for _, state := range states {
		state.mu.Lock()
		for _, entry := range state.entries {
			if len(expired) >= limit {
				break
			}
			if entry.Status != models.StatusCalled || entry.CalledAt == nil || !entry.CalledAt.Before(cutoff) {
				continue
			}
			next := cloneEntry(entry)
			next.Status = models.StatusMissed
			if err := state.appendEvent(next, "entry.expired", occurredAt); err != nil {
				state.mu.Unlock()
				return expired, err
			}
			*entry = next
			expired = append(expired, cloneEntry(entry))
		}
		state.mu.Unlock()
		if len(expired) >= limit {
			break
		}
	}
	return expired, nil
}

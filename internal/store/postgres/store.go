package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"skipline/internal/models"
	"skipline/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const queueColumns = `queue_id, owner_id, name, description, category, active, max_capacity, per_person_minutes,
	current_serving_position, last_position, total_served, created_at, updated_at`

const entryColumns = `entry_id, queue_id, holder_name, phone, email, user_id, position, status,
	estimated_wait, notes, joined_at, called_at, served_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CreateQueue(ctx context.Context, input store.CreateQueueInput) (models.Queue, error) {
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO queues (queue_id, owner_id, name, description, category, max_capacity, per_person_minutes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		RETURNING `+queueColumns,
		uuid.NewString(), input.OwnerID, input.Name, input.Description, input.Category, input.MaxCapacity, input.PerPersonMinutes, createdAt)
	queue, err := scanQueue(row)
	return queue, store.Wrap("create queue", err)
}

func (s *Store) UpdateQueue(ctx context.Context, input store.UpdateQueueInput) (models.Queue, error) {
	updatedAt := input.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE queues SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			category = COALESCE($4, category),
			max_capacity = COALESCE($5, max_capacity),
			per_person_minutes = COALESCE($6, per_person_minutes),
			active = COALESCE($7, active),
			updated_at = $8
		WHERE queue_id = $1
		RETURNING `+queueColumns,
		input.QueueID, input.Name, input.Description, input.Category, input.MaxCapacity, input.PerPersonMinutes, input.Active, updatedAt)
	queue, err := scanQueue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Queue{}, store.ErrQueueNotFound
	}
	return queue, store.Wrap("update queue", err)
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	queue, err := scanQueue(s.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM queues WHERE queue_id = $1`, queueID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Queue{}, store.ErrQueueNotFound
	}
	return queue, store.Wrap("get queue", err)
}

func (s *Store) ListActiveQueues(ctx context.Context) ([]models.Queue, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+queueColumns+` FROM queues WHERE active ORDER BY created_at DESC`)
	if err != nil {
		return nil, store.Wrap("list queues", err)
	}
	defer rows.Close()

	queues := make([]models.Queue, 0)
	for rows.Next() {
		queue, err := scanQueue(rows)
		if err != nil {
			return nil, store.Wrap("list queues", err)
		}
		queues = append(queues, queue)
	}
	return queues, store.Wrap("list queues", rows.Err())
}

func (s *Store) ListEntries(ctx context.Context, queueID string) ([]models.Entry, error) {
	if _, err := s.GetQueue(ctx, queueID); err != nil {
		return nil, err
	}
	entries, err := queryEntries(ctx, s.pool, `SELECT `+entryColumns+` FROM entries WHERE queue_id = $1 ORDER BY position`, queueID)
	return entries, store.Wrap("list entries", err)
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.Entry, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM entries WHERE entry_id = $1`, entryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Entry{}, store.ErrEntryNotFound
	}
	return entry, store.Wrap("get entry", err)
}

func (s *Store) Join(ctx context.Context, input store.JoinInput) (store.JoinResult, error) {
	joinedAt := input.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now().UTC()
	}

	var result store.JoinResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		queue, err := lockQueue(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}
		if !queue.Active {
			return store.ErrQueueInactive
		}

		existing, err := scanEntry(tx.QueryRow(ctx, `
			SELECT `+entryColumns+` FROM entries
			WHERE queue_id = $1 AND phone = $2 AND status IN ('waiting', 'called')
		`, input.QueueID, input.Phone))
		if err == nil {
			return &store.AlreadyInQueueError{Entry: existing}
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		var waiting int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM entries WHERE queue_id = $1 AND status = 'waiting'`, input.QueueID).Scan(&waiting); err != nil {
			return err
		}
		if waiting >= queue.MaxCapacity {
			return store.ErrQueueFull
		}

		position, err := nextPosition(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}
		queue.LastPosition = position

		entry := models.Entry{
			EntryID:       uuid.NewString(),
			QueueID:       input.QueueID,
			HolderName:    input.HolderName,
			Phone:         input.Phone,
			Email:         input.Email,
			UserID:        input.UserID,
			Position:      position,
			Status:        models.StatusWaiting,
			EstimatedWait: store.EstimateWait(position, queue.CurrentServingPosition, queue.PerPersonMinutes),
			Notes:         input.Notes,
			JoinedAt:      joinedAt,
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO entries (entry_id, queue_id, holder_name, phone, email, user_id, position, status, estimated_wait, notes, joined_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, entry.EntryID, entry.QueueID, entry.HolderName, entry.Phone, entry.Email, entry.UserID, entry.Position, entry.Status, entry.EstimatedWait, entry.Notes, entry.JoinedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return store.ErrAlreadyInQueue
			}
			return err
		}
		if err := insertEntryEvent(ctx, tx, entry, "entry.joined", joinedAt); err != nil {
			return err
		}
		result = store.JoinResult{Entry: entry, Queue: queue}
		return nil
	})
	return result, store.Wrap("join", err)
}

// CallNext picks the lowest waiting position past the cursor and moves the
// cursor onto it in the same transaction.
func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (store.CallResult, error) {
	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	var result store.CallResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		queue, err := lockQueue(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}

		entry, err := scanEntry(tx.QueryRow(ctx, `
			UPDATE entries
			SET status = 'called', called_at = $3
			WHERE entry_id = (
				SELECT entry_id FROM entries
				WHERE queue_id = $1 AND status = 'waiting' AND position > $2
				ORDER BY position
				LIMIT 1
			)
			RETURNING `+entryColumns,
			input.QueueID, queue.CurrentServingPosition, calledAt))
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNothingWaiting
		}
		if err != nil {
			return err
		}

		queue, err = scanQueue(tx.QueryRow(ctx, `
			UPDATE queues SET current_serving_position = $2, updated_at = $3
			WHERE queue_id = $1
			RETURNING `+queueColumns,
			input.QueueID, entry.Position, calledAt))
		if err != nil {
			return err
		}
		if err := insertEntryEvent(ctx, tx, entry, store.EventType(store.ActionCallNext), calledAt); err != nil {
			return err
		}
		result = store.CallResult{Entry: entry, Queue: queue}
		return nil
	})
	return result, store.Wrap("call next", err)
}

func (s *Store) MarkServed(ctx context.Context, input store.EntryActionInput) (store.TransitionResult, error) {
	result, err := s.transition(ctx, input, store.ActionServe)
	return result, store.Wrap("mark served", err)
}

func (s *Store) MarkMissed(ctx context.Context, input store.EntryActionInput) (store.TransitionResult, error) {
	result, err := s.transition(ctx, input, store.ActionMiss)
	return result, store.Wrap("mark missed", err)
}

func (s *Store) Cancel(ctx context.Context, input store.EntryActionInput) (store.TransitionResult, error) {
	result, err := s.transition(ctx, input, store.ActionCancel)
	return result, store.Wrap("cancel", err)
}

// transition locks the owning queue before the entry so it never deadlocks
// against CallNext.
func (s *Store) transition(ctx context.Context, input store.EntryActionInput, action string) (store.TransitionResult, error) {
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var result store.TransitionResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		queueID, err := entryQueueID(ctx, tx, input.EntryID)
		if err != nil {
			return err
		}
		queue, err := lockQueue(ctx, tx, queueID)
		if err != nil {
			return err
		}
		entry, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM entries WHERE entry_id = $1 FOR UPDATE`, input.EntryID))
		if err != nil {
			return err
		}
		if !store.ValidTransition(action, entry.Status) {
			return store.ErrInvalidTransition
		}

		var servedAt interface{}
		if action == store.ActionServe {
			servedAt = occurredAt
		}
		entry, err = scanEntry(tx.QueryRow(ctx, `
			UPDATE entries SET status = $2, served_at = COALESCE($3, served_at)
			WHERE entry_id = $1
			RETURNING `+entryColumns,
			input.EntryID, store.TargetStatus(action), servedAt))
		if err != nil {
			return err
		}

		if action == store.ActionServe {
			queue, err = scanQueue(tx.QueryRow(ctx, `
				UPDATE queues SET total_served = total_served + 1, updated_at = $2
				WHERE queue_id = $1
				RETURNING `+queueColumns,
				queueID, occurredAt))
			if err != nil {
				return err
			}
		}
		if err := insertEntryEvent(ctx, tx, entry, store.EventType(action), occurredAt); err != nil {
			return err
		}
		result = store.TransitionResult{Entry: entry, Queue: queue}
		return nil
	})
	return result, err
}

func (s *Store) SkipTo(ctx context.Context, input store.EntryActionInput) (models.Queue, error) {
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var queue models.Queue
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		queueID, err := entryQueueID(ctx, tx, input.EntryID)
		if err != nil {
			return err
		}
		if _, err := lockQueue(ctx, tx, queueID); err != nil {
			return err
		}
		queue, err = scanQueue(tx.QueryRow(ctx, `
			UPDATE queues
			SET current_serving_position = (SELECT position - 1 FROM entries WHERE entry_id = $2),
				updated_at = $3
			WHERE queue_id = $1
			RETURNING `+queueColumns,
			queueID, input.EntryID, occurredAt))
		return err
	})
	return queue, store.Wrap("skip to", err)
}

func (s *Store) Upcoming(ctx context.Context, queueID string, cursor, window int) ([]store.Upcoming, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`, ahead FROM (
			SELECT `+entryColumns+`,
				COUNT(*) OVER (ORDER BY position ROWS BETWEEN UNBOUNDED PRECEDING AND 1 PRECEDING) AS ahead
			FROM entries
			WHERE queue_id = $1 AND status = 'waiting'
		) waiting
		WHERE position > $2 AND position <= $3
		ORDER BY position
	`, queueID, cursor, cursor+window)
	if err != nil {
		return nil, store.Wrap("upcoming", err)
	}
	defer rows.Close()

	upcoming := make([]store.Upcoming, 0)
	for rows.Next() {
		var item store.Upcoming
		var ahead int64
		if err := scanEntryInto(rows, &item.Entry, &ahead); err != nil {
			return nil, store.Wrap("upcoming", err)
		}
		item.PeopleAhead = int(ahead)
		upcoming = append(upcoming, item)
	}
	return upcoming, store.Wrap("upcoming", rows.Err())
}

func (s *Store) Lookup(ctx context.Context, queueID, phone string) (store.Lookup, error) {
	queue, err := s.GetQueue(ctx, queueID)
	if err != nil {
		return store.Lookup{}, err
	}
	entry, err := scanEntry(s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE queue_id = $1 AND phone = $2 AND status IN ('waiting', 'called')
	`, queueID, phone))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Lookup{}, store.ErrEntryNotFound
	}
	if err != nil {
		return store.Lookup{}, store.Wrap("lookup", err)
	}

	var ahead int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM entries
		WHERE queue_id = $1 AND status = 'waiting' AND position < $2
	`, queueID, entry.Position).Scan(&ahead); err != nil {
		return store.Lookup{}, store.Wrap("lookup", err)
	}
	return store.Lookup{
		Entry:       entry,
		PeopleAhead: ahead,
		Queue: store.QueueSummary{
			QueueID:                queue.QueueID,
			Name:                   queue.Name,
			Active:                 queue.Active,
			CurrentServingPosition: queue.CurrentServingPosition,
			PerPersonMinutes:       queue.PerPersonMinutes,
		},
	}, nil
}

func (s *Store) Stats(ctx context.Context, queueID string) (store.Stats, error) {
	queue, err := s.GetQueue(ctx, queueID)
	if err != nil {
		return store.Stats{}, err
	}
	stats := store.Stats{CurrentServingPosition: queue.CurrentServingPosition, TotalServed: queue.TotalServed}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM entries WHERE queue_id = $1 GROUP BY status`, queueID)
	if err != nil {
		return store.Stats{}, store.Wrap("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return store.Stats{}, store.Wrap("stats", err)
		}
		switch status {
		case models.StatusWaiting:
			stats.Waiting = count
		case models.StatusCalled:
			stats.Called = count
		case models.StatusServed:
			stats.Served = count
		case models.StatusMissed:
			stats.Missed = count
		case models.StatusCancelled:
			stats.Cancelled = count
		}
	}
	return stats, store.Wrap("stats", rows.Err())
}

func (s *Store) ListEntryEvents(ctx context.Context, entryID string) ([]store.EntryEvent, error) {
	if _, err := s.GetEntry(ctx, entryID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, seq, type, payload, created_at, prev_hash, hash
		FROM entry_events
		WHERE entry_id = $1
		ORDER BY seq
	`, entryID)
	if err != nil {
		return nil, store.Wrap("list entry events", err)
	}
	defer rows.Close()

	events := make([]store.EntryEvent, 0)
	for rows.Next() {
		var event store.EntryEvent
		var payload string
		if err := rows.Scan(&event.EntryID, &event.Seq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, store.Wrap("list entry events", err)
		}
		event.Payload = []byte(payload)
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	return events, store.Wrap("list entry events", rows.Err())
}

// ExpireCalled marks entries left in called since before cutoff as missed.
// Rows held by another transaction are skipped and picked up on the next scan.
func (s *Store) ExpireCalled(ctx context.Context, input store.ExpireCalledInput) ([]models.Entry, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 100
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var expired []models.Entry
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		candidates, err := queryEntries(ctx, tx, `
			SELECT `+entryColumns+` FROM entries
			WHERE status = 'called' AND called_at < $1
			ORDER BY called_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, input.Cutoff, limit)
		if err != nil {
			return err
		}
		expired = make([]models.Entry, 0, len(candidates))
		for _, entry := range candidates {
			if _, err := tx.Exec(ctx, `UPDATE entries SET status = 'missed' WHERE entry_id = $1`, entry.EntryID); err != nil {
				return err
			}
			entry.Status = models.StatusMissed
			if err := insertEntryEvent(ctx, tx, entry, "entry.expired", occurredAt); err != nil {
				return err
			}
			expired = append(expired, entry)
		}
		return nil
	})
	if err != nil {
		return nil, store.Wrap("expire called", err)
	}
	return expired, nil
}

func lockQueue(ctx context.Context, tx pgx.Tx, queueID string) (models.Queue, error) {
	queue, err := scanQueue(tx.QueryRow(ctx, `SELECT `+queueColumns+` FROM queues WHERE queue_id = $1 FOR UPDATE`, queueID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Queue{}, store.ErrQueueNotFound
	}
	return queue, err
}

func entryQueueID(ctx context.Context, tx pgx.Tx, entryID string) (string, error) {
	var queueID string
	err := tx.QueryRow(ctx, `SELECT queue_id FROM entries WHERE entry_id = $1`, entryID).Scan(&queueID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrEntryNotFound
	}
	return queueID, err
}

// nextPosition bumps the queue's position counter. Positions are never handed
// out twice, even when the entry that held one is cancelled.
func nextPosition(ctx context.Context, tx pgx.Tx, queueID string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		UPDATE queues SET last_position = last_position + 1
		WHERE queue_id = $1
		RETURNING last_position
	`, queueID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func insertEntryEvent(ctx context.Context, tx pgx.Tx, entry models.Entry, eventType string, at time.Time) error {
	var prev *store.EntryEvent
	var last store.EntryEvent
	err := tx.QueryRow(ctx, `
		SELECT seq, hash FROM entry_events
		WHERE entry_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, entry.EntryID).Scan(&last.Seq, &last.Hash)
	switch {
	case err == nil:
		prev = &last
	case !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	event, err := store.NextEntryEvent(prev, entry, eventType, at)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO entry_events (entry_id, seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.EntryID, event.Seq, event.Type, string(event.Payload), event.CreatedAt, event.PrevHash, event.Hash)
	return err
}

func queryEntries(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, query string, args ...any) ([]models.Entry, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanQueue(row pgx.Row) (models.Queue, error) {
	var queue models.Queue
	err := row.Scan(&queue.QueueID, &queue.OwnerID, &queue.Name, &queue.Description, &queue.Category, &queue.Active,
		&queue.MaxCapacity, &queue.PerPersonMinutes, &queue.CurrentServingPosition, &queue.LastPosition,
		&queue.TotalServed, &queue.CreatedAt, &queue.UpdatedAt)
	return queue, err
}

func scanEntry(row pgx.Row) (models.Entry, error) {
	var entry models.Entry
	err := scanEntryInto(row, &entry)
	return entry, err
}

func scanEntryInto(row pgx.Row, entry *models.Entry, extra ...any) error {
	var calledAt sql.NullTime
	var servedAt sql.NullTime
	dest := []any{&entry.EntryID, &entry.QueueID, &entry.HolderName, &entry.Phone, &entry.Email, &entry.UserID,
		&entry.Position, &entry.Status, &entry.EstimatedWait, &entry.Notes, &entry.JoinedAt, &calledAt, &servedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	entry.CalledAt = nullTimePtr(calledAt)
	entry.ServedAt = nullTimePtr(servedAt)
	return nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

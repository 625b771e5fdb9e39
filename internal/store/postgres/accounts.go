package postgres

import (
	"context"
	"errors"
	"time"

	"skipline/internal/store"

	"github.com/jackc/pgx/v5"
)

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, role, expires_at
		FROM sessions
		WHERE session_id = $1 AND expires_at > now()
	`, sessionID).Scan(&session.SessionID, &session.UserID, &session.Role, &session.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Session{}, store.ErrSessionNotFound
	}
	return session, store.Wrap("get session", err)
}

func (s *Store) InsertNotification(ctx context.Context, notification store.Notification) error {
	createdAt := notification.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	status := notification.Status
	if status == "" {
		status = "pending"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (notification_id, entry_id, event_type, channel, recipient, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
	`, notification.NotificationID, notification.EntryID, notification.EventType, notification.Channel, notification.Recipient, status, createdAt)
	return store.Wrap("insert notification", err)
}

func (s *Store) MarkNotificationSent(ctx context.Context, notificationID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'sent', attempts = attempts + 1, last_error = '', updated_at = now()
		WHERE notification_id = $1
	`, notificationID)
	return store.Wrap("mark notification sent", err)
}

func (s *Store) MarkNotificationFailed(ctx context.Context, notificationID, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = now()
		WHERE notification_id = $1
	`, notificationID, lastError)
	return store.Wrap("mark notification failed", err)
}

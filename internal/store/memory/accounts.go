package memory

import (
	"context"
	"sort"
	"time"

	"skipline/internal/models"
	"skipline/internal/store"
)

// AddSession registers a session token for an authenticated user.
func (s *Store) AddSession(session store.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = session
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return store.Session{}, store.ErrSessionNotFound
	}
	if !session.ExpiresAt.IsZero() && s.now().After(session.ExpiresAt) {
		return store.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) SaveSubscription(ctx context.Context, sub models.PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.UserID] = sub
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, userID string) (models.PushSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[userID]
	if !ok {
		return models.PushSubscription{}, store.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Store) RemoveSubscription(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[userID]; !ok {
		return store.ErrSubscriptionNotFound
	}
	delete(s.subscriptions, userID)
	return nil
}

func (s *Store) InsertNotification(ctx context.Context, notification store.Notification) error {
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[notification.NotificationID] = notification
	return nil
}

func (s *Store) MarkNotificationSent(ctx context.Context, notificationID string) error {
	return s.updateNotification(notificationID, "sent", "")
}

func (s *Store) MarkNotificationFailed(ctx context.Context, notificationID, lastError string) error {
	return s.updateNotification(notificationID, "failed", lastError)
}

func (s *Store) updateNotification(notificationID, status, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	notification, ok := s.notifications[notificationID]
	if !ok {
		return nil
	}
	notification.Status = status
	notification.Attempts++
	notification.LastError = lastError
	s.notifications[notificationID] = notification
	return nil
}

// Notifications returns the delivery log entries for an entry, oldest first.
func (s *Store) Notifications(entryID string) []store.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Notification, 0)
	for _, notification := range s.notifications {
		if notification.EntryID == entryID {
			out = append(out, notification)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SetClock overrides the store's clock; tests use it to age called entries.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Package redis keeps browser push subscriptions in Redis, keyed by user.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"skipline/internal/models"
	"skipline/internal/store"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "push:subscription:"

type SubscriptionStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewSubscriptionStore wraps client. A zero ttl keeps subscriptions until
// they are removed.
func NewSubscriptionStore(client *goredis.Client, ttl time.Duration) *SubscriptionStore {
	return &SubscriptionStore{client: client, ttl: ttl}
}

func key(userID string) string {
	return keyPrefix + userID
}

func (s *SubscriptionStore) SaveSubscription(ctx context.Context, sub models.PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return store.Wrap("save subscription", err)
	}
	return store.Wrap("save subscription", s.client.Set(ctx, key(sub.UserID), raw, s.ttl).Err())
}

func (s *SubscriptionStore) GetSubscription(ctx context.Context, userID string) (models.PushSubscription, error) {
	raw, err := s.client.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return models.PushSubscription{}, store.ErrSubscriptionNotFound
	}
	if err != nil {
		return models.PushSubscription{}, store.Wrap("get subscription", err)
	}
	var sub models.PushSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return models.PushSubscription{}, store.Wrap("get subscription", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) RemoveSubscription(ctx context.Context, userID string) error {
	removed, err := s.client.Del(ctx, key(userID)).Result()
	if err != nil {
		return store.Wrap("remove subscription", err)
	}
	if removed == 0 {
		return store.ErrSubscriptionNotFound
	}
	return nil
}

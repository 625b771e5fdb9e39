package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"skipline/internal/models"
	"skipline/internal/store"

	pubnub "github.com/pubnub/go"
)

// Publisher delivers a push payload to a subscriber channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

type PushPayload struct {
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Tag                string         `json:"tag"`
	RequireInteraction bool           `json:"requireInteraction,omitempty"`
	Endpoint           string         `json:"endpoint,omitempty"`
	Data               map[string]any `json:"data"`
}

type SubscriptionReader interface {
	GetSubscription(ctx context.Context, userID string) (models.PushSubscription, error)
}

// PushChannel notifies users that registered a browser subscription.
// Anonymous entries have no user and are skipped.
type PushChannel struct {
	subs        SubscriptionReader
	publisher   Publisher
	frontendURL string
}

func NewPushChannel(subs SubscriptionReader, publisher Publisher, frontendURL string) *PushChannel {
	return &PushChannel{subs: subs, publisher: publisher, frontendURL: frontendURL}
}

func (c *PushChannel) Name() string {
	return "push"
}

func (c *PushChannel) Recipient(ctx context.Context, event Event) (string, error) {
	if event.UserID == "" || c.subs == nil {
		return "", nil
	}
	sub, err := c.subs.GetSubscription(ctx, event.UserID)
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if sub.Channel != "" {
		return sub.Channel, nil
	}
	return UserChannel(event.UserID), nil
}

func (c *PushChannel) Send(ctx context.Context, event Event, recipient string) error {
	msg := pushMessage(event)
	payload := PushPayload{
		Title:              msg.Subject,
		Body:               msg.Body,
		Tag:                msg.Tag,
		RequireInteraction: event.Kind == KindYourTurn,
		Data: map[string]any{
			"queue_id":     event.QueueID,
			"entry_id":     event.EntryID,
			"position":     event.Position,
			"people_ahead": event.PeopleAhead,
			"url":          fmt.Sprintf("%s/queue/%s", c.frontendURL, event.QueueID),
		},
	}
	return c.publisher.Publish(ctx, recipient, payload)
}

// UserChannel is the default push channel name for a user.
func UserChannel(userID string) string {
	return "channel-" + userID
}

type PubNubConfig struct {
	PublishKey   string
	SubscribeKey string
	UUID         string
}

type PubNubPublisher struct {
	pn *pubnub.PubNub
}

func NewPubNubPublisher(cfg PubNubConfig) (*PubNubPublisher, error) {
	if cfg.PublishKey == "" || cfg.SubscribeKey == "" {
		return nil, errors.New("pubnub publish and subscribe keys are required")
	}
	pnCfg := pubnub.NewConfig()
	pnCfg.PublishKey = cfg.PublishKey
	pnCfg.SubscribeKey = cfg.SubscribeKey
	if cfg.UUID != "" {
		pnCfg.UUID = cfg.UUID
	}
	return &PubNubPublisher{pn: pubnub.NewPubNub(pnCfg)}, nil
}

func (p *PubNubPublisher) Publish(ctx context.Context, channel string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, _, err = p.pn.Publish().Channel(channel).Message(string(raw)).Execute()
	return err
}

type logPublisher struct{}

func (logPublisher) Publish(ctx context.Context, channel string, payload any) error {
	slog.Info("push publish", "channel", channel, "payload", payload)
	return nil
}

type failPublisher struct{}

func (failPublisher) Publish(ctx context.Context, channel string, payload any) error {
	return errors.New("push publisher failure")
}

// Package app wires configuration to concrete stores and notification
// channels for the queue-service and notification-worker binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"skipline/internal/config"
	"skipline/internal/notify"
	"skipline/internal/store"
	"skipline/internal/store/memory"
	"skipline/internal/store/postgres"
	redisstore "skipline/internal/store/redis"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
)

// Backend holds the stores selected by STORE_DRIVER.
type Backend struct {
	Tickets    store.TicketStore
	Sessions   store.SessionStore
	Subs       store.SubscriptionStore
	Deliveries store.DeliveryLog

	closers []func()
}

// Open connects the stores. The postgres driver keeps push subscriptions in
// Redis so both binaries see them; the memory driver keeps everything in
// process.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.StoreDriver {
	case "memory":
		st := memory.New()
		logger.Warn("using in-memory store, data is lost on restart")
		if len(cfg.DevSessions) == 0 {
			logger.Warn("no DEV_SESSIONS configured, owner routes will reject every request")
		}
		for token, userID := range cfg.DevSessions {
			st.AddSession(store.Session{SessionID: token, UserID: userID, Role: "owner"})
		}
		return &Backend{Tickets: st, Sessions: st, Subs: st, Deliveries: st}, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		st := postgres.NewStore(pool)
		client := goredis.NewClient(RedisOptions(cfg))
		b := &Backend{
			Tickets:    st,
			Sessions:   st,
			Subs:       redisstore.NewSubscriptionStore(client, 0),
			Deliveries: st,
		}
		b.closers = append(b.closers, pool.Close, func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", "error", err)
			}
		})
		return b, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func RedisOptions(cfg config.Config) *goredis.Options {
	return &goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func AsynqRedis(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func ChannelsConfig(cfg config.Config) notify.ChannelsConfig {
	return notify.ChannelsConfig{
		Email: notify.ProviderConfig{
			Kind:         cfg.EmailProvider,
			WebhookURL:   cfg.EmailWebhookURL,
			WebhookToken: cfg.EmailWebhookToken,
			From:         cfg.EmailFrom,
		},
		PushProvider: cfg.PushProvider,
		PubNub: notify.PubNubConfig{
			PublishKey:   cfg.PubNubPublishKey,
			SubscribeKey: cfg.PubNubSubscribeKey,
			UUID:         cfg.PubNubUUID,
		},
		FrontendURL:  cfg.FrontendURL,
		AMQPURL:      cfg.AMQPURL,
		AMQPExchange: cfg.AMQPExchange,
	}
}

// DeliveryDispatcher builds a started dispatcher over the real channels.
// The returned stop function drains it and releases broker connections.
func DeliveryDispatcher(cfg config.Config, b *Backend, logger *slog.Logger) (*notify.Dispatcher, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	channels, closeChannels, err := notify.BuildChannels(ChannelsConfig(cfg), b.Subs)
	if err != nil {
		return nil, nil, err
	}
	d := notify.NewDispatcher(channels, notify.Options{
		Workers:     cfg.NotifyWorkers,
		Buffer:      cfg.NotifyBuffer,
		SendTimeout: cfg.NotifySendTimeout,
		DeliveryLog: b.Deliveries,
		Logger:      logger,
	})
	d.Start()
	stop := func() {
		d.Close()
		if err := closeChannels(); err != nil {
			logger.Warn("notify channels close", "error", err)
		}
	}
	return d, stop, nil
}

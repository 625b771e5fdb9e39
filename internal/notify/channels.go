package notify

import (
	"fmt"
	"log/slog"
)

type ChannelsConfig struct {
	Email        ProviderConfig
	PushProvider string
	PubNub       PubNubConfig
	FrontendURL  string
	AMQPURL      string
	AMQPExchange string
}

// BuildChannels assembles the delivery channels enabled by cfg. The returned
// close function releases broker connections.
func BuildChannels(cfg ChannelsConfig, subs SubscriptionReader) ([]Channel, func() error, error) {
	channels := []Channel{NewEmailChannel(cfg.Email)}
	closeFn := func() error { return nil }

	var publisher Publisher
	switch cfg.PushProvider {
	case "off", "noop":
	case "pubnub":
		pn, err := NewPubNubPublisher(cfg.PubNub)
		if err != nil {
			return nil, closeFn, fmt.Errorf("push provider: %w", err)
		}
		publisher = pn
	case "fail":
		publisher = failPublisher{}
	default:
		publisher = logPublisher{}
	}
	if publisher != nil {
		channels = append(channels, NewPushChannel(subs, publisher, cfg.FrontendURL))
	}

	if cfg.AMQPURL != "" {
		exchange := cfg.AMQPExchange
		if exchange == "" {
			exchange = "queue_events"
		}
		broker, err := NewBrokerChannel(cfg.AMQPURL, exchange)
		if err != nil {
			return nil, closeFn, err
		}
		channels = append(channels, broker)
		closeFn = broker.Close
		slog.Info("notify broker enabled", "exchange", exchange)
	}
	return channels, closeFn, nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Provider is the last hop of a text channel such as email.
type Provider interface {
	Send(ctx context.Context, msg message, recipient string) error
}

type ProviderConfig struct {
	Kind         string
	WebhookURL   string
	WebhookToken string
	From         string
}

func newProvider(channel string, cfg ProviderConfig) Provider {
	switch cfg.Kind {
	case "", "stub", "log":
		return logProvider{channel: channel}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		if cfg.WebhookURL == "" {
			return logProvider{channel: channel}
		}
		return newWebhookProvider(channel, cfg.WebhookURL, cfg.WebhookToken, cfg.From)
	default:
		if strings.HasPrefix(cfg.Kind, "http://") || strings.HasPrefix(cfg.Kind, "https://") {
			return newWebhookProvider(channel, cfg.Kind, cfg.WebhookToken, cfg.From)
		}
		return logProvider{channel: channel}
	}
}

type logProvider struct {
	channel string
}

func (p logProvider) Send(ctx context.Context, msg message, recipient string) error {
	slog.Info("notify send", "channel", p.channel, "recipient", recipient, "subject", msg.Subject, "tag", msg.Tag)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, msg message, recipient string) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, msg message, recipient string) error {
	return errors.New("provider failure")
}

type webhookProvider struct {
	channel string
	url     string
	token   string
	from    string
	client  *http.Client
}

func newWebhookProvider(channel, url, token, from string) webhookProvider {
	return webhookProvider{
		channel: channel,
		url:     url,
		token:   token,
		from:    from,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (p webhookProvider) Send(ctx context.Context, msg message, recipient string) error {
	body, err := json.Marshal(map[string]string{
		"channel":   p.channel,
		"from":      p.from,
		"recipient": recipient,
		"subject":   msg.Subject,
		"message":   msg.Body,
		"tag":       msg.Tag,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider rejected request: status %d", resp.StatusCode)
	}
	return nil
}

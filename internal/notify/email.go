package notify

import "context"

// EmailChannel sends every event kind to the entry's email address, when one
// was given at join time.
type EmailChannel struct {
	provider Provider
}

func NewEmailChannel(cfg ProviderConfig) *EmailChannel {
	return &EmailChannel{provider: newProvider("email", cfg)}
}

func (c *EmailChannel) Name() string {
	return "email"
}

func (c *EmailChannel) Recipient(ctx context.Context, event Event) (string, error) {
	return event.Email, nil
}

func (c *EmailChannel) Send(ctx context.Context, event Event, recipient string) error {
	return c.provider.Send(ctx, emailMessage(event), recipient)
}

package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	notifications "github.com/CodeFleck/sensorvision-sub010/internal/notifications/domain"
)

// WebhookChannel posts JSON messages to a destination URL.
type WebhookChannel struct {
	client *http.Client
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{client: client}
}

// Name returns the channel name.
func (c *WebhookChannel) Name() string { return notifications.ChannelWebhook }

// Send posts the message to the destination URL.
func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if c == nil || c.client == nil {
		return errors.New("webhook channel: nil client")
	}
	if msg.Destination == "" {
		return errors.New("webhook channel: empty destination")
	}
	payload, err := json.Marshal(map[string]string{
		"subject": msg.Subject,
		"text":    msg.Body,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Destination, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook channel: status %d", resp.StatusCode)
	}
	return nil
}

package channels

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	notifications "github.com/CodeFleck/sensorvision-sub010/internal/notifications/domain"
)

// SMSChannel sends texts through an HTTP SMS gateway.
type SMSChannel struct {
	client *resty.Client
}

// NewSMSChannel constructs an SMS channel against a gateway base URL.
func NewSMSChannel(baseURL, apiKey string) (*SMSChannel, error) {
	if baseURL == "" {
		return nil, errors.New("sms channel: empty gateway url")
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}
	return &SMSChannel{client: client}, nil
}

// Name returns the channel name.
func (c *SMSChannel) Name() string { return notifications.ChannelSMS }

// Send posts one text to the gateway.
func (c *SMSChannel) Send(ctx context.Context, msg Message) error {
	if c == nil || c.client == nil {
		return errors.New("sms channel: nil client")
	}
	if msg.Destination == "" {
		return errors.New("sms channel: empty destination")
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"to":   msg.Destination,
			"text": msg.Body,
		}).
		Post("/messages")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("sms channel: gateway status %d", resp.StatusCode())
	}
	return nil
}

package channels

import (
	"context"
	"errors"
	"net/smtp"
	"strings"

	notifications "github.com/CodeFleck/sensorvision-sub010/internal/notifications/domain"
)

// SendMailFunc matches smtp.SendMail and allows substitution in tests.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// MailChannel sends plain-text mail over SMTP.
type MailChannel struct {
	addr     string
	from     string
	sendMail SendMailFunc
}

// NewMailChannel constructs a mail channel.
func NewMailChannel(addr, from string, sendMail SendMailFunc) (*MailChannel, error) {
	if addr == "" {
		return nil, errors.New("mail channel: empty smtp address")
	}
	if from == "" {
		return nil, errors.New("mail channel: empty from address")
	}
	if sendMail == nil {
		sendMail = smtp.SendMail
	}
	return &MailChannel{addr: addr, from: from, sendMail: sendMail}, nil
}

// Name returns the channel name.
func (c *MailChannel) Name() string { return notifications.ChannelEmail }

// Send delivers one message.
func (c *MailChannel) Send(_ context.Context, msg Message) error {
	if c == nil || c.sendMail == nil {
		return errors.New("mail channel: nil sender")
	}
	if msg.Destination == "" {
		return errors.New("mail channel: empty destination")
	}
	var body strings.Builder
	body.WriteString("From: " + c.from + "\r\n")
	body.WriteString("To: " + msg.Destination + "\r\n")
	body.WriteString("Subject: " + msg.Subject + "\r\n")
	body.WriteString("\r\n")
	body.WriteString(msg.Body)
	body.WriteString("\r\n")
	return c.sendMail(c.addr, nil, c.from, []string{msg.Destination}, []byte(body.String()))
}

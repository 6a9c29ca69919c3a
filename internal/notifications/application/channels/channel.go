package channels

import "context"

// Message is one outbound notification.
type Message struct {
	OrganizationID string
	Destination    string
	Subject        string
	Body           string
}

// Channel delivers messages over one transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

package live

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/CodeFleck/sensorvision-sub010/internal/notifications/application/channels"
	notifications "github.com/CodeFleck/sensorvision-sub010/internal/notifications/domain"
	telemetry "github.com/CodeFleck/sensorvision-sub010/internal/telemetry/domain"
)

var errNilHub = errors.New("live: nil hub")

// Hub maintains connected live subscribers grouped by organization and fans
// pipeline events out to them.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*Client]bool
}

type envelope struct {
	organizationID string
	payload        []byte
}

// NewHub constructs a hub.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 64),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
}

// Run processes registrations and broadcasts until the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if msg.organizationID != "" && client.organizationID != msg.organizationID {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// Slow consumer; drop it rather than stall the pipeline.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// add registers a client, reporting false once the hub has shut down.
func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastTelemetry pushes a telemetry record to the organization's
// subscribers.
func (h *Hub) BroadcastTelemetry(organizationID string, record telemetry.TelemetryRecord) {
	h.send(organizationID, "telemetry", record)
}

// BroadcastAlert pushes an alert payload to the organization's subscribers.
func (h *Hub) BroadcastAlert(organizationID string, alert any) {
	h.send(organizationID, "alert", alert)
}

// BroadcastNotification pushes an in-app notification to the organization's
// subscribers.
func (h *Hub) BroadcastNotification(organizationID string, notification any) {
	h.send(organizationID, "notification", notification)
}

func (h *Hub) send(organizationID, messageType string, payload any) {
	if h == nil {
		return
	}
	body, err := json.Marshal(map[string]any{"type": messageType, "payload": payload})
	if err != nil {
		log.Printf("live: marshal %s broadcast: %v", messageType, err)
		return
	}
	select {
	case h.broadcast <- envelope{organizationID: organizationID, payload: body}:
	default:
		// Broadcast backlog full; live updates are best effort.
	}
}

// NotificationChannel adapts the hub to the notification channel contract for
// in-app delivery.
type NotificationChannel struct {
	hub *Hub
}

// NewNotificationChannel constructs an in-app channel over the hub.
func NewNotificationChannel(hub *Hub) *NotificationChannel {
	return &NotificationChannel{hub: hub}
}

// Name returns the channel name.
func (c *NotificationChannel) Name() string { return notifications.ChannelInApp }

// Send broadcasts the message to the organization's live subscribers.
func (c *NotificationChannel) Send(_ context.Context, msg channels.Message) error {
	if c == nil || c.hub == nil {
		return errNilHub
	}
	c.hub.BroadcastNotification(msg.OrganizationID, map[string]string{
		"userId":  msg.Destination,
		"subject": msg.Subject,
		"text":    msg.Body,
	})
	return nil
}

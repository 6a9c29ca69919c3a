package live

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestHubBroadcastsToOrganization(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &Client{hub: hub, organizationID: "org-1", send: make(chan []byte, 1)}
	other := &Client{hub: hub, organizationID: "org-2", send: make(chan []byte, 1)}
	if !hub.add(client) || !hub.add(other) {
		t.Fatal("registration while running must succeed")
	}

	hub.BroadcastAlert("org-1", map[string]string{"id": "alert-1"})

	select {
	case msg := <-client.send:
		if !strings.Contains(string(msg), "alert-1") {
			t.Fatalf("unexpected payload %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast delivered")
	}
	select {
	case msg := <-other.send:
		t.Fatalf("foreign organization received %s", msg)
	default:
	}
}

func TestHubShutdownUnblocksLateClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	client := &Client{hub: hub, organizationID: "org-1", send: make(chan []byte, 1)}
	registered := make(chan bool, 1)
	go func() { registered <- hub.add(client) }()
	select {
	case ok := <-registered:
		if ok {
			t.Fatal("registration after shutdown must be refused")
		}
	case <-time.After(time.Second):
		t.Fatal("registration after shutdown must not block")
	}

	removed := make(chan struct{})
	go func() {
		hub.remove(client)
		close(removed)
	}()
	select {
	case <-removed:
	case <-time.After(time.Second):
		t.Fatal("unregistration after shutdown must not block")
	}
}

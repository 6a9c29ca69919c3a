package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/CodeFleck/sensorvision-sub010/internal/observability/metrics"
	"github.com/CodeFleck/sensorvision-sub010/internal/telemetry/application"
)

// Consumer subscribes to a telemetry topic and feeds payloads into the ingest
// pipeline.
type Consumer struct {
	client  paho.Client
	topic   string
	service *application.Service
	logger  *log.Logger
}

// NewConsumer constructs an MQTT telemetry consumer.
func NewConsumer(client paho.Client, topic string, service *application.Service, logger *log.Logger) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("mqtt consumer: nil client")
	}
	if topic == "" {
		return nil, errors.New("mqtt consumer: empty topic")
	}
	if service == nil {
		return nil, errors.New("mqtt consumer: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Consumer{client: client, topic: topic, service: service, logger: logger}, nil
}

// Start connects and subscribes, then blocks until the context ends.
func (c *Consumer) Start(ctx context.Context) error {
	if c == nil {
		return errors.New("mqtt consumer: nil consumer")
	}
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	if token := c.client.Subscribe(c.topic, 1, c.handleMessage); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	c.logger.Printf("mqtt consumer: subscribed to %s", c.topic)

	<-ctx.Done()
	if token := c.client.Unsubscribe(c.topic); token.Wait() && token.Error() != nil {
		c.logger.Printf("mqtt consumer: unsubscribe: %v", token.Error())
	}
	c.client.Disconnect(250)
	return nil
}

type telemetryMessage struct {
	DeviceID     string              `json:"deviceId"`
	Timestamp    string              `json:"timestamp"`
	TS           int64               `json:"ts"`
	Measurements map[string]*float64 `json:"measurements"`
	Metadata     map[string]string   `json:"metadata"`
}

func (c *Consumer) handleMessage(_ paho.Client, msg paho.Message) {
	started := time.Now()

	var payload telemetryMessage
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		c.logger.Printf("mqtt consumer: decode %s: %v", msg.Topic(), err)
		metrics.ObserveIngest(metrics.IngestResultError, time.Since(started))
		metrics.IncIngestError("mqtt_decode")
		return
	}
	if payload.DeviceID == "" {
		c.logger.Printf("mqtt consumer: %s: missing deviceId", msg.Topic())
		metrics.ObserveIngest(metrics.IngestResultError, time.Since(started))
		metrics.IncIngestError("mqtt_payload")
		return
	}

	at := time.Time{}
	switch {
	case payload.TS > 1_000_000_000_000:
		at = time.UnixMilli(payload.TS).UTC()
	case payload.TS > 0:
		at = time.Unix(payload.TS, 0).UTC()
	case payload.Timestamp != "":
		parsed, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
		if err != nil {
			c.logger.Printf("mqtt consumer: %s: invalid timestamp %q", msg.Topic(), payload.Timestamp)
			metrics.ObserveIngest(metrics.IngestResultError, time.Since(started))
			metrics.IncIngestError("mqtt_timestamp")
			return
		}
		at = parsed.UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := c.service.Ingest(ctx, application.IngestRequest{
		DeviceExternalID: payload.DeviceID,
		Timestamp:        at,
		Measurements:     payload.Measurements,
		Metadata:         payload.Metadata,
	})
	if err != nil {
		c.logger.Printf("mqtt consumer: ingest %s: %v", payload.DeviceID, err)
		metrics.ObserveIngest(metrics.IngestResultError, time.Since(started))
		metrics.IncIngestError("mqtt_ingest")
		return
	}
	metrics.ObserveIngest(metrics.IngestResultSuccess, time.Since(started))
}

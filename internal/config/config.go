package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// HTTPConfig defines the HTTP listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// IngestConfig defines telemetry ingestion behavior. Auto-provisioning is on
// unless explicitly disabled.
type IngestConfig struct {
	DisableAutoProvision bool   `yaml:"disable_auto_provision"`
	DefaultOrgID         string `yaml:"default_organization"`
	DeviceTokenSecret    string `yaml:"device_token_secret"`
}

// AutoProvision reports whether unknown devices may be created on first contact.
func (c IngestConfig) AutoProvision() bool { return !c.DisableAutoProvision }

// MQTTConfig defines the optional MQTT ingest consumer.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	Topic     string `yaml:"topic"`
}

// NotifyConfig defines notification channel endpoints.
type NotifyConfig struct {
	SMTPAddr       string `yaml:"smtp_addr"`
	SMTPFrom       string `yaml:"smtp_from"`
	SMSGatewayURL  string `yaml:"sms_gateway_url"`
	SMSGatewayKey  string `yaml:"sms_gateway_key"`
	ChatWebhookURL string `yaml:"chat_webhook_url"`
}

// FleetConfig defines global rule evaluation.
type FleetConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// HealthConfig defines the device offline sweep.
type HealthConfig struct {
	OfflineAfter  time.Duration `yaml:"offline_after"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Config is the full service configuration.
type Config struct {
	DatabaseURL string       `yaml:"database_url"`
	RedisAddr   string       `yaml:"redis_addr"`
	HTTP        HTTPConfig   `yaml:"http"`
	Ingest      IngestConfig `yaml:"ingest"`
	MQTT        MQTTConfig   `yaml:"mqtt"`
	Notify      NotifyConfig `yaml:"notify"`
	Fleet       FleetConfig  `yaml:"fleet"`
	Health      HealthConfig `yaml:"health"`
}

// Load reads configuration from the optional yaml file named by CONFIG_PATH,
// then applies environment overrides and defaults.
func Load() (Config, error) {
	cfg := Config{}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = getenvDefault("DATABASE_URL", os.Getenv("PG_DSN"))
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = getenvDefault("HTTP_ADDR", ":8080")
	}
	if cfg.Ingest.DefaultOrgID == "" {
		cfg.Ingest.DefaultOrgID = getenvDefault("DEFAULT_ORG_ID", "org-default")
	}
	if !cfg.Ingest.DisableAutoProvision {
		cfg.Ingest.DisableAutoProvision = getenvBoolDefault("INGEST_DISABLE_AUTO_PROVISION", false)
	}
	if cfg.Ingest.DeviceTokenSecret == "" {
		cfg.Ingest.DeviceTokenSecret = os.Getenv("DEVICE_TOKEN_SECRET")
	}
	if cfg.MQTT.BrokerURL == "" {
		cfg.MQTT.BrokerURL = os.Getenv("MQTT_BROKER_URL")
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = getenvDefault("MQTT_CLIENT_ID", "sensorvision-ingest")
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = getenvDefault("MQTT_TOPIC", "telemetry/#")
	}
	if cfg.Notify.SMTPAddr == "" {
		cfg.Notify.SMTPAddr = os.Getenv("SMTP_ADDR")
	}
	if cfg.Notify.SMTPFrom == "" {
		cfg.Notify.SMTPFrom = getenvDefault("SMTP_FROM", "alerts@sensorvision.local")
	}
	if cfg.Notify.SMSGatewayURL == "" {
		cfg.Notify.SMSGatewayURL = os.Getenv("SMS_GATEWAY_URL")
	}
	if cfg.Notify.SMSGatewayKey == "" {
		cfg.Notify.SMSGatewayKey = os.Getenv("SMS_GATEWAY_KEY")
	}
	if cfg.Notify.ChatWebhookURL == "" {
		cfg.Notify.ChatWebhookURL = os.Getenv("CHAT_WEBHOOK_URL")
	}
	if cfg.Fleet.TickInterval <= 0 {
		cfg.Fleet.TickInterval = getenvDuration("FLEET_TICK_INTERVAL", time.Minute)
	}
	if cfg.Health.OfflineAfter <= 0 {
		cfg.Health.OfflineAfter = getenvDuration("DEVICE_OFFLINE_AFTER", 30*time.Minute)
	}
	if cfg.Health.SweepInterval <= 0 {
		cfg.Health.SweepInterval = getenvDuration("DEVICE_SWEEP_INTERVAL", 5*time.Minute)
	}

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("config: DATABASE_URL or PG_DSN is required")
	}
	if cfg.Ingest.DefaultOrgID == "" {
		return cfg, errors.New("config: default organization is required")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

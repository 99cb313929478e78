package config

import "time"

// ResponderConfig points at the external bot responder service.
type ResponderConfig struct {
	// Address is the gRPC target of the responder (empty disables bot replies).
	Address string `yaml:"address,omitempty"`

	// Timeout bounds a single Generate call.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// MinConfidence marks replies below this confidence as failed.
	MinConfidence float64 `yaml:"min_confidence,omitempty" validate:"min=0,max=1"`
}

// DeliveryConfig holds outbound channel delivery settings.
type DeliveryConfig struct {
	WAHA *WAHAConfig `yaml:"waha,omitempty"`
}

// WAHAConfig configures the WhatsApp HTTP API gateway client.
type WAHAConfig struct {
	BaseURL   string        `yaml:"base_url,omitempty"`
	APIKeyEnv string        `yaml:"api_key_env,omitempty"` // Defaults to "WAHA_API_KEY"
	Session   string        `yaml:"session,omitempty"`     // Default WAHA session name
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// EventBackend selects where lifecycle events are published
type EventBackend string

const (
	EventBackendLog      EventBackend = "log"
	EventBackendPostgres EventBackend = "postgres" // pg_notify on the main database
	EventBackendRedis    EventBackend = "redis"
	EventBackendKafka    EventBackend = "kafka"
	EventBackendNone     EventBackend = "none"
)

// IsValid checks if the event backend is known
func (b EventBackend) IsValid() bool {
	switch b {
	case EventBackendLog, EventBackendPostgres, EventBackendRedis, EventBackendKafka, EventBackendNone:
		return true
	default:
		return false
	}
}

// EventsConfig configures lifecycle event publishing.
type EventsConfig struct {
	Backend EventBackend `yaml:"backend,omitempty"`
	Redis   *RedisConfig `yaml:"redis,omitempty"`
	Kafka   *KafkaConfig `yaml:"kafka,omitempty"`
}

// RedisConfig configures the Redis pub/sub event backend.
type RedisConfig struct {
	Addr          string `yaml:"addr,omitempty"`
	PasswordEnv   string `yaml:"password_env,omitempty"`
	DB            int    `yaml:"db,omitempty"`
	ChannelPrefix string `yaml:"channel_prefix,omitempty"`
}

// KafkaConfig configures the Kafka event backend.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers,omitempty"`
	Topic    string   `yaml:"topic,omitempty"`
	ClientID string   `yaml:"client_id,omitempty"`
}

// DefaultResponderConfig returns the built-in responder defaults.
func DefaultResponderConfig() *ResponderConfig {
	return &ResponderConfig{
		Timeout:       15 * time.Second,
		MinConfidence: 0.3,
	}
}

// DefaultDeliveryConfig returns the built-in delivery defaults.
func DefaultDeliveryConfig() *DeliveryConfig {
	return &DeliveryConfig{
		WAHA: &WAHAConfig{
			BaseURL:   "http://localhost:3000",
			APIKeyEnv: "WAHA_API_KEY",
			Session:   "default",
			Timeout:   10 * time.Second,
		},
	}
}

// DefaultEventsConfig returns the built-in event defaults.
func DefaultEventsConfig() *EventsConfig {
	return &EventsConfig{
		Backend: EventBackendLog,
		Redis: &RedisConfig{
			Addr:          "localhost:6379",
			PasswordEnv:   "REDIS_PASSWORD",
			ChannelPrefix: "omnidesk",
		},
		Kafka: &KafkaConfig{
			Brokers:  []string{"localhost:9092"},
			Topic:    "omnidesk.sessions",
			ClientID: "omnidesk",
		},
	}
}

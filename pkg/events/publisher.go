package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/omnidesk/omnidesk/pkg/config"
)

// Publisher delivers lifecycle events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// New builds the publisher selected by cfg.Backend.
// db is only used by the postgres backend and may be nil otherwise.
func New(ctx context.Context, cfg *config.EventsConfig, db *sql.DB) (Publisher, error) {
	switch cfg.Backend {
	case config.EventBackendLog, "":
		return NewLogPublisher(slog.Default()), nil
	case config.EventBackendNone:
		return NopPublisher{}, nil
	case config.EventBackendPostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres event backend requires a database")
		}
		return NewNotifyPublisher(db), nil
	case config.EventBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: os.Getenv(cfg.Redis.PasswordEnv),
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedisPublisher(client, cfg.Redis.ChannelPrefix), nil
	case config.EventBackendKafka:
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, KafkaProducerConfig(cfg.Kafka.ClientID))
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}
		return NewKafkaPublisher(producer, cfg.Kafka.Topic), nil
	default:
		return nil, fmt.Errorf("unknown event backend %q", cfg.Backend)
	}
}

// LogPublisher writes events to a structured logger. It is the default
// backend for single-node deployments.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher. A nil logger uses slog.Default().
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, evt Event) error {
	p.logger.InfoContext(ctx, "Session event",
		"type", evt.Type,
		"event_id", evt.EventID,
		"organization_id", evt.OrganizationID,
		"session_id", evt.SessionID,
		"data", evt.Data)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// RedisPublisher fans events out over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher takes ownership of client; Close closes it.
func NewRedisPublisher(client *redis.Client, channelPrefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: channelPrefix}
}

// Channel returns the Redis channel name for a logical channel.
func (p *RedisPublisher) Channel(channel string) string {
	if p.prefix == "" {
		return channel
	}
	return p.prefix + ":" + channel
}

func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	for _, ch := range channelsFor(evt) {
		if err := p.client.Publish(ctx, p.Channel(ch), payload).Err(); err != nil {
			return fmt.Errorf("failed to publish %s to redis: %w", evt.Type, err)
		}
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// KafkaProducerConfig returns the producer settings used for event topics.
// Events of one session share a key; a single in-flight request keeps
// retries from reordering them within a partition.
func KafkaProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// KafkaPublisher writes events to a single topic keyed by session
// (or organization for organization-wide events).
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher takes ownership of producer; Close closes it.
func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(_ context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	key := evt.SessionID
	if key == "" {
		key = evt.OrganizationID
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(evt.Type)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish %s to kafka: %w", evt.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

package config

import (
	"strings"
	"time"
)

// EventBusConfig describes the Kafka-backed event bus: the single
// orchestration topic every outbox event lands on. Per-user routing past
// this topic is handled by the cache dispatch regions (§4.7), not
// per-pod Kafka topics — a pod joining the cluster needs to start
// receiving dispatches immediately, without a topic being provisioned
// and a consumer group rebalanced for it first.
type EventBusConfig struct {
	// Driver selects the Broker implementation: "kafka" (production) or
	// "memory" (single-pod/dev, no external broker required).
	Driver string `yaml:"driver"`

	Brokers []string `yaml:"brokers"`

	// OrchestrationTopic is the single topic the outbox publisher writes
	// to and the orchestration consumer group reads from.
	OrchestrationTopic string `yaml:"orchestration_topic"`

	// DLTSuffix is the suffix DLTTopicFor appends. The service itself names
	// dead-letter topics with eventbus.DLTTopic (topic + ".DLT").
	DLTSuffix string `yaml:"dlt_suffix"`

	ConsumerGroup string `yaml:"consumer_group"`

	ProducerRetryMax int `yaml:"producer_retry_max"`

	// ConsumerMaxAttempts/RetryDelay bound the Orchestration Consumer's
	// per-message retry before forwarding to the dead-letter topic (§4.5, §7).
	ConsumerMaxAttempts int           `yaml:"consumer_max_attempts"`
	ConsumerRetryDelay  time.Duration `yaml:"consumer_retry_delay"`
}

// DefaultEventBusConfig returns the built-in event bus defaults.
func DefaultEventBusConfig() *EventBusConfig {
	return &EventBusConfig{
		Driver:              "memory",
		Brokers:             []string{"localhost:9092"},
		OrchestrationTopic:  "broadcast.orchestration",
		DLTSuffix:           ".dlt",
		ConsumerGroup:       "broadcaster-orchestration",
		ProducerRetryMax:    5,
		ConsumerMaxAttempts: 3,
		ConsumerRetryDelay:  2 * time.Second,
	}
}

func applyEventBusEnv(c *EventBusConfig) {
	c.Driver = getEnv("KAFKA_DRIVER", c.Driver)
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		c.Brokers = strings.Split(v, ",")
	}
	c.OrchestrationTopic = getEnv("KAFKA_ORCHESTRATION_TOPIC", c.OrchestrationTopic)
	c.ConsumerGroup = getEnv("KAFKA_CONSUMER_GROUP", c.ConsumerGroup)
	c.ProducerRetryMax = envInt("KAFKA_PRODUCER_RETRY_MAX", c.ProducerRetryMax)
	c.ConsumerMaxAttempts = envInt("KAFKA_CONSUMER_MAX_ATTEMPTS", c.ConsumerMaxAttempts)
	c.ConsumerRetryDelay = envDuration("KAFKA_CONSUMER_RETRY_DELAY", c.ConsumerRetryDelay)
}

// DLTTopicFor returns the dead-letter topic name for a given source topic.
func (c *EventBusConfig) DLTTopicFor(topic string) string {
	return topic + c.DLTSuffix
}

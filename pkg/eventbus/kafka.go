package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// KafkaBroker is a Broker backed by IBM/sarama.
type KafkaBroker struct {
	client sarama.Client
	sp     sarama.SyncProducer

	mu        sync.Mutex
	consumers []*kafkaConsumer
}

// NewKafkaBroker dials the given brokers with production-ready defaults:
// required acks from all in-sync replicas, bounded producer retries, and
// Snappy compression.
func NewKafkaBroker(brokers []string) (*KafkaBroker, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 10
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Version = sarama.V2_8_0_0

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to kafka: %w", err)
	}

	sp, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create sync producer: %w", err)
	}

	return &KafkaBroker{client: client, sp: sp}, nil
}

func (b *KafkaBroker) Producer(topic string) (Producer, error) {
	return &kafkaProducer{topic: topic, sp: b.sp}, nil
}

func (b *KafkaBroker) Consumer(topic, group string) (Consumer, error) {
	cg, err := sarama.NewConsumerGroupFromClient(group, b.client)
	if err != nil {
		return nil, fmt.Errorf("create consumer group %q: %w", group, err)
	}
	c := &kafkaConsumer{topic: topic, group: cg}
	b.mu.Lock()
	b.consumers = append(b.consumers, c)
	b.mu.Unlock()
	return c, nil
}

func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	for _, c := range b.consumers {
		_ = c.Close()
	}
	b.mu.Unlock()

	var errs []error
	if err := b.sp.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.client.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *KafkaBroker) Healthy(ctx context.Context) bool {
	return !b.client.Closed()
}

type kafkaProducer struct {
	topic string
	sp    sarama.SyncProducer
}

func (p *kafkaProducer) Publish(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	topic := msg.Topic
	if topic == "" {
		topic = p.topic
	}

	kmsg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(msg.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("message-id"), Value: []byte(msg.ID)},
		},
	}
	if len(msg.Key) > 0 {
		kmsg.Key = sarama.ByteEncoder(msg.Key)
	}
	for k, v := range msg.Headers {
		kmsg.Headers = append(kmsg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	partition, offset, err := p.sp.SendMessage(kmsg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	msg.Partition = partition
	msg.Offset = offset
	return nil
}

func (p *kafkaProducer) Close() error { return nil }

type kafkaConsumer struct {
	topic string
	group sarama.ConsumerGroup
}

func (c *kafkaConsumer) Consume(ctx context.Context, handler Handler) error {
	h := &consumerGroupHandler{handler: handler}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("kafka consumer group error, retrying", "topic", c.topic, "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *kafkaConsumer) Close() error {
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler Handler
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			m := &Message{
				Topic:     msg.Topic,
				Key:       msg.Key,
				Payload:   msg.Value,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Headers:   make(map[string]string, len(msg.Headers)),
			}
			for _, h := range msg.Headers {
				m.Headers[string(h.Key)] = string(h.Value)
			}
			if err := h.handler(sess.Context(), m); err != nil {
				slog.Error("message handler failed", "topic", msg.Topic, "partition", msg.Partition,
					"offset", msg.Offset, "error", err)
				// The partition advances regardless (§7): it is the caller's
				// responsibility to have already routed the message to the
				// DLT topic before returning an error here, if that's the
				// desired policy for this consumer.
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

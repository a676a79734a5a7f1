package eventbus

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryBroker is an in-process Broker for unit tests. Each topic is an
// unbounded slice guarded by a mutex; every registered consumer for a topic
// receives every message (simplest possible fan-out, sufficient for the
// single-consumer-group-per-topic shape this codebase actually uses).
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string][]*Message
	subs   map[string][]chan *Message
	closed bool
}

// NewMemoryBroker returns an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics: make(map[string][]*Message),
		subs:   make(map[string][]chan *Message),
	}
}

func (b *MemoryBroker) Producer(topic string) (Producer, error) {
	return &memoryProducer{broker: b, topic: topic}, nil
}

func (b *MemoryBroker) Consumer(topic, group string) (Consumer, error) {
	ch := make(chan *Message, 256)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	return &memoryConsumer{broker: b, topic: topic, ch: ch}, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	return nil
}

func (b *MemoryBroker) Healthy(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// Messages returns every message ever published to topic, in publish
// order. Test-only introspection hook.
func (b *MemoryBroker) Messages(topic string) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Message, len(b.topics[topic]))
	copy(out, b.topics[topic])
	return out
}

type memoryProducer struct {
	broker *MemoryBroker
	topic  string
}

func (p *memoryProducer) Publish(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	topic := msg.Topic
	if topic == "" {
		topic = p.topic
	}
	msg.Topic = topic

	p.broker.mu.Lock()
	defer p.broker.mu.Unlock()
	if p.broker.closed {
		return context.Canceled
	}
	msg.Offset = int64(len(p.broker.topics[topic]))
	p.broker.topics[topic] = append(p.broker.topics[topic], msg)
	for _, ch := range p.broker.subs[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (p *memoryProducer) Close() error { return nil }

type memoryConsumer struct {
	broker *MemoryBroker
	topic  string
	ch     chan *Message
}

func (c *memoryConsumer) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case msg, ok := <-c.ch:
			if !ok {
				return nil
			}
			_ = handler(ctx, msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *memoryConsumer) Close() error {
	return nil
}

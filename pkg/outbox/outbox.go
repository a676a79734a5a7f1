// Package outbox implements the Outbox Publisher (§4.4): a poll loop that
// replays unpublished rows written by lifecycle/targeting/inbox
// transactions onto the event bus, marking each row published only after
// the bus acknowledges — the durability boundary between "committed to
// Postgres" and "visible to every pod's orchestration consumer".
package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/broadcaster/pkg/config"
	"github.com/codeready-toolchain/broadcaster/pkg/database"
	"github.com/codeready-toolchain/broadcaster/pkg/eventbus"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
)

// Publisher polls pkg/database's outbox table and republishes rows to
// eventbus.Broker, one producer per distinct topic it has seen.
type Publisher struct {
	db     *database.Client
	broker eventbus.Broker
	cfg    *config.OutboxConfig
	log    *slog.Logger

	mu        sync.Mutex
	producers map[string]eventbus.Producer

	consecutiveFailures int
}

// New builds a Publisher. Call Run to start the poll loop; it blocks
// until ctx is cancelled.
func New(db *database.Client, broker eventbus.Broker, cfg *config.OutboxConfig, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		db: db, broker: broker, cfg: cfg, log: log,
		producers: make(map[string]eventbus.Producer),
	}
}

// Run polls at cfg.PollInterval, backing off (capped at cfg.MaxBackoff)
// after consecutive failed poll passes so a down broker doesn't spin the
// poll loop at full speed (§4.4 "retries indefinitely with backoff").
func (p *Publisher) Run(ctx context.Context) {
	delay := p.cfg.PollInterval
	for {
		select {
		case <-ctx.Done():
			p.closeProducers()
			return
		case <-time.After(delay):
		}

		published, err := p.pollOnce(ctx)
		if err != nil {
			p.consecutiveFailures++
			delay = backoff(p.cfg.PollInterval, p.consecutiveFailures, p.cfg.MaxBackoff)
			p.log.Error("outbox poll failed", "error", err, "next_attempt_in", delay)
			continue
		}
		p.consecutiveFailures = 0
		delay = p.cfg.PollInterval
		if published > 0 {
			p.log.Debug("outbox poll published rows", "count", published)
		}
	}
}

func (p *Publisher) pollOnce(ctx context.Context) (int, error) {
	events, err := p.db.Outbox.ListUnpublished(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, ev := range events {
		if err := p.publish(ctx, ev); err != nil {
			p.log.Warn("publish outbox event failed, will retry next poll",
				"event_id", ev.ID, "topic", ev.Topic, "error", err)
			continue
		}
		if err := p.db.Outbox.MarkPublished(ctx, ev.ID); err != nil {
			p.log.Error("mark outbox event published failed", "event_id", ev.ID, "error", err)
			continue
		}
		published++
	}
	return published, nil
}

func (p *Publisher) publish(ctx context.Context, ev *models.OutboxEvent) error {
	producer, err := p.producerFor(ev.Topic)
	if err != nil {
		return err
	}
	return producer.Publish(ctx, &eventbus.Message{
		ID:      ev.ID,
		Topic:   ev.Topic,
		Key:     []byte(ev.AggregateID),
		Payload: ev.Payload,
		Headers: map[string]string{
			"event_type":     string(ev.EventType),
			"aggregate_type": ev.AggregateType,
		},
	})
}

func (p *Publisher) producerFor(topic string) (eventbus.Producer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if producer, ok := p.producers[topic]; ok {
		return producer, nil
	}
	producer, err := p.broker.Producer(topic)
	if err != nil {
		return nil, err
	}
	p.producers[topic] = producer
	return producer, nil
}

func (p *Publisher) closeProducers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic, producer := range p.producers {
		if err := producer.Close(); err != nil {
			p.log.Warn("close outbox producer failed", "topic", topic, "error", err)
		}
	}
}

func backoff(base time.Duration, failures int, max time.Duration) time.Duration {
	d := base
	for i := 0; i < failures && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

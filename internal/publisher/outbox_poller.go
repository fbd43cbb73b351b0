package publisher

import (
	"context"
	"time"

	"github.com/fjod/go_cart/store-service/internal/config"
	"github.com/fjod/go_cart/store-service/internal/metrics"
	r "github.com/fjod/go_cart/store-service/internal/repository"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const batchSize = 100

type OutboxStore interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*r.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

// MessageWriter is the part of *kafka.Writer the poller uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutboxPoller relays committed order events to Kafka. Delivery is at least
// once: an event is marked processed only after the broker accepted it.
type OutboxPoller struct {
	tick    time.Duration
	repo    OutboxStore
	writer  MessageWriter
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewOutboxPoller(repo OutboxStore, cfg config.KafkaConfig, log *zap.Logger, m *metrics.Metrics) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return newOutboxPoller(repo, w, time.Second, log, m)
}

func newOutboxPoller(repo OutboxStore, w MessageWriter, tick time.Duration, log *zap.Logger, m *metrics.Metrics) *OutboxPoller {
	if log == nil {
		log = zap.NewNop()
	}
	return &OutboxPoller{tick: tick, repo: repo, writer: w, log: log.Named("outbox"), metrics: m}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.log.Error("failed to fetch events", zap.Error(err))
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.log.Warn("failed to publish event",
				zap.Int64("id", event.ID),
				zap.String("event_type", event.EventType),
				zap.Error(err))
			// later events of the same order must not overtake this one
			return
		}
		p.metrics.EventPublished(event.EventType)

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.Error("failed to mark event as processed", zap.Int64("id", event.ID), zap.Error(err))
		}
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *r.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // order id keeps per-order ordering
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}

package repository

import (
	"context"

	"CreditChain/internal/domain/models"
	domrepo "CreditChain/internal/domain/repository"
)

type producer interface {
	Publish(ctx context.Context, topic string, key []byte, value any) error
	Close() error
}

// KafkaRecordPublisher publishes finished forecasts keyed by entity id.
type KafkaRecordPublisher struct {
	producer producer
	topic    string
}

var _ domrepo.RecordPublisher = (*KafkaRecordPublisher)(nil)

// NewKafkaRecordPublisher accepts *kafka.Producer.
func NewKafkaRecordPublisher(p producer, topic string) *KafkaRecordPublisher {
	return &KafkaRecordPublisher{producer: p, topic: topic}
}

func (p *KafkaRecordPublisher) Publish(ctx context.Context, rec *models.ForecastRecord) error {
	if rec == nil {
		return nil
	}
	return p.producer.Publish(ctx, p.topic, []byte(rec.EntityID), rec)
}

func (p *KafkaRecordPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

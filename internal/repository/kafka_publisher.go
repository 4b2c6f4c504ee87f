package repository

import (
	"context"

	"github.com/segmentio/kafka-go"

	"TPMForge/internal/domain/models"
	domrepo "TPMForge/internal/domain/repository"
	pkgkafka "TPMForge/pkg/kafka"
)

// KafkaPublisher implements Publisher for Kafka.
type KafkaPublisher struct {
	producer    *pkgkafka.Producer
	framesTopic string
	alertsTopic string
}

var _ domrepo.Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, framesTopic, alertsTopic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, framesTopic: framesTopic, alertsTopic: alertsTopic}
}

// PublishFrame keys by cycle id so a frame and its retries share a partition.
func (p *KafkaPublisher) PublishFrame(ctx context.Context, f *models.Frame) error {
	if f == nil {
		return nil
	}
	return p.producer.PublishBatch(ctx, p.framesTopic, []pkgkafka.Message{{
		Key:     []byte(f.CycleID),
		Value:   f,
		Headers: []kafka.Header{{Key: "kind", Value: []byte("frame")}},
	}})
}

// PublishAlert keys by series to keep per-series ordering.
func (p *KafkaPublisher) PublishAlert(ctx context.Context, a *models.Alert) error {
	if a == nil {
		return nil
	}
	return p.producer.PublishBatch(ctx, p.alertsTopic, []pkgkafka.Message{{
		Key:     []byte(a.Series),
		Value:   a,
		Headers: []kafka.Header{{Key: "kind", Value: []byte("alert")}},
	}})
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

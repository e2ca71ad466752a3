package services

import (
	"context"
	"encoding/json"
	"time"

	"checkout-service/models"

	"go.uber.org/zap"
)

// OrderEventPublisher announces order lifecycle changes. Publishing is
// best-effort and never fails the operation that caused it.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent)
}

// SNSPublisher is implemented by awspkg.SNSClient.
type SNSPublisher interface {
	PublishWithType(ctx context.Context, topicArn, eventType string, message []byte) error
}

// KafkaPublisher is implemented by kafka.Producer.
type KafkaPublisher interface {
	Publish(ctx context.Context, topic, key string, message []byte) error
}

// BroadcastPublisher sends each event to SNS and Kafka, whichever are configured.
type BroadcastPublisher struct {
	sns        SNSPublisher
	snsTopic   string
	kafka      KafkaPublisher
	kafkaTopic string
	logger     *zap.Logger
}

func NewBroadcastPublisher(sns SNSPublisher, snsTopic string, kafka KafkaPublisher, kafkaTopic string, logger *zap.Logger) *BroadcastPublisher {
	p := &BroadcastPublisher{logger: logger}
	if sns != nil && snsTopic != "" {
		p.sns, p.snsTopic = sns, snsTopic
	}
	if kafka != nil && kafkaTopic != "" {
		p.kafka, p.kafkaTopic = kafka, kafkaTopic
	}
	return p
}

func (p *BroadcastPublisher) PublishOrderEvent(ctx context.Context, event models.OrderEvent) {
	if p.sns == nil && p.kafka == nil {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal order event", zap.String("order_id", event.OrderID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if p.sns != nil {
		if err := p.sns.PublishWithType(ctx, p.snsTopic, event.Type, body); err != nil {
			p.logger.Warn("SNS publish failed", zap.String("order_id", event.OrderID), zap.String("type", event.Type), zap.Error(err))
		}
	}
	if p.kafka != nil {
		if err := p.kafka.Publish(ctx, p.kafkaTopic, event.OrderID, body); err != nil {
			p.logger.Warn("Kafka publish failed", zap.String("order_id", event.OrderID), zap.String("type", event.Type), zap.Error(err))
		}
	}
}

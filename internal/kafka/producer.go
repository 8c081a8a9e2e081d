package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-booking/internal/config"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer MessageWriter
	Topics config.TopicConfig
	Logger *logger.Logger
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &Producer{Writer: writer, Topics: topics, Logger: log}
}

// Publish writes one message; the key keeps events of one aggregate on one partition.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte, eventType models.EventType) error {
	err := p.Writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(eventType)}},
	})
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.EventsPublished.WithLabelValues("kafka", string(eventType), result).Inc()
	if err != nil {
		return fmt.Errorf("kafka publish %s to %s: %w", eventType, topic, err)
	}
	p.Logger.LogKafka("PUBLISH", topic, fmt.Sprintf("%s key=%s", eventType, key))
	return nil
}

// PublishBookingEvent streams a booking transition keyed by booking id.
func (p *Producer) PublishBookingEvent(ctx context.Context, event models.BookingEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Publish(ctx, p.Topics.BookingEvents, event.Booking.ID, value, event.Type)
}

// PublishReferralEvent streams a bonus or withdrawal change keyed by partner id.
func (p *Producer) PublishReferralEvent(ctx context.Context, event models.ReferralEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Publish(ctx, p.Topics.ReferralEvents, event.PartnerID, value, event.Type)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

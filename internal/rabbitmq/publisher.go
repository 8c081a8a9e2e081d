package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

const ExchangeKind = "topic"

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends booking and referral events to a topic exchange. The event
// type is the routing key, so consumers bind on patterns like "booking.*".
type Publisher struct {
	Exchange string
	Logger   *logger.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel Channel
}

func NewPublisher(url, exchange string, log *logger.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, ExchangeKind, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
	}

	log.Info("RABBITMQ", fmt.Sprintf("Publishing to exchange %s", exchange))
	return &Publisher{Exchange: exchange, Logger: log, conn: conn, channel: ch}, nil
}

// NewPublisherWithChannel wraps an already opened channel.
func NewPublisherWithChannel(ch Channel, exchange string, log *logger.Logger) *Publisher {
	return &Publisher{Exchange: exchange, Logger: log, channel: ch}
}

func (p *Publisher) Publish(ctx context.Context, routingKey, messageID string, eventType models.EventType, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	err = p.channel.PublishWithContext(ctx, p.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Type:         string(eventType),
		Body:         body,
	})
	p.mu.Unlock()

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.EventsPublished.WithLabelValues("rabbitmq", routingKey, result).Inc()
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	p.Logger.Debug("RABBITMQ", fmt.Sprintf("published to %s/%s", p.Exchange, routingKey))
	return nil
}

func (p *Publisher) PublishBookingEvent(ctx context.Context, event models.BookingEvent) error {
	return p.Publish(ctx, string(event.Type), event.Booking.ID, event.Type, event)
}

func (p *Publisher) PublishReferralEvent(ctx context.Context, event models.ReferralEvent) error {
	return p.Publish(ctx, string(event.Type), event.PartnerID, event.Type, event)
}

func (p *Publisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/apperr"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/segmentio/kafka-go"
)

// maxBackoff caps the delay between retries of one message.
const maxBackoff = 30 * time.Second

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PaymentHandler interface {
	HandlePaymentResult(ctx context.Context, result models.PaymentResult) (*models.Booking, error)
}

// Consumer reads payment results and applies them to bookings.
type Consumer struct {
	Reader  MessageReader
	Logger  *logger.Logger
	Backoff time.Duration
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{Reader: reader, Logger: log, Backoff: 500 * time.Millisecond}
}

// Run consumes until ctx is done. A message is committed only once settled:
// applied, refused by a domain rule, or unreadable. Transient failures retry
// the same message with growing backoff and leave its offset uncommitted.
func (c *Consumer) Run(ctx context.Context, handler PaymentHandler) error {
	c.Logger.Info("KAFKA", "Payment result consumer started")
	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			if !c.sleep(ctx, c.Backoff) {
				return nil
			}
			continue
		}

		if !c.handle(ctx, msg, handler) {
			return nil
		}
		if err := c.Reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.Logger.Error("KAFKA", fmt.Sprintf("Failed to commit offset %d: %v", msg.Offset, err))
		}
	}
}

// handle reports whether msg is settled and may be committed. It returns false
// only when ctx ends while the message still fails transiently.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler PaymentHandler) bool {
	var result models.PaymentResult
	if err := json.Unmarshal(msg.Value, &result); err != nil || result.BookingID == "" {
		c.Logger.Warn("KAFKA", fmt.Sprintf("Dropping malformed payment result at offset %d: %v", msg.Offset, err))
		return true
	}

	delay := c.Backoff
	if delay <= 0 {
		delay = time.Millisecond
	}
	for attempt := 1; ; attempt++ {
		_, err := handler.HandlePaymentResult(ctx, result)
		if err == nil {
			c.Logger.LogKafka("CONSUME", msg.Topic, fmt.Sprintf("payment %s for booking %s applied (%s)", result.PaymentRef, result.BookingID, result.Status))
			return true
		}
		if apperr.IsDomain(err) {
			c.Logger.Warn("KAFKA", fmt.Sprintf("payment %s for booking %s refused: %v", result.PaymentRef, result.BookingID, err))
			return true
		}
		c.Logger.Error("KAFKA", fmt.Sprintf("payment %s for booking %s failed (attempt %d, retry in %s): %v",
			result.PaymentRef, result.BookingID, attempt, delay, err))
		if !c.sleep(ctx, delay) {
			c.Logger.Warn("KAFKA", fmt.Sprintf("Leaving offset %d uncommitted for redelivery", msg.Offset))
			return false
		}
		delay = min(delay*2, maxBackoff)
	}
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.Reader.Close()
}

// Package events publishes one event per processed payment or refund so that
// downstream systems can follow gateway outcomes without polling.
package events

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
)

// Event types.
const (
	TypePaymentProcessed = "payment.processed"
	TypeRefundProcessed  = "refund.processed"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "payment-gateway.results"

// Event describes one finished gateway request. It never carries card data or
// credentials.
type Event struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	GatewayType       int       `json:"gatewayType"`
	MerchantAccountID string    `json:"merchantAccountId"`
	Success           bool      `json:"success"`
	TransactionID     *string   `json:"transactionId"`
	StatusCode        int       `json:"statusCode"`
	OccurredAt        time.Time `json:"occurredAt"`
}

// NewEvent builds an event from a result.
func NewEvent(eventType string, gt adapter.GatewayType, result adapter.Result) Event {
	return Event{
		ID:                uuid.NewString(),
		Type:              eventType,
		GatewayType:       int(gt),
		MerchantAccountID: result.MerchantAccountID,
		Success:           result.Success,
		TransactionID:     result.TransactionID,
		StatusCode:        int(result.Status),
		OccurredAt:        time.Now().UTC(),
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx stdcontext.Context, event Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(stdcontext.Context, Event) error { return nil }
func (NopPublisher) Close() error                            { return nil }

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx stdcontext.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON messages keyed by merchant account, so
// one merchant's events stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewKafkaWriter creates a writer for the given brokers and topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewKafkaPublisher creates a KafkaPublisher.
func NewKafkaPublisher(writer MessageWriter, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish writes one event.
func (p *KafkaPublisher) Publish(ctx stdcontext.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	msg := kafka.Message{
		Key:   []byte(event.MerchantAccountID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	p.logger.Debug("Event published", zap.String("event_id", event.ID), zap.String("type", event.Type))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

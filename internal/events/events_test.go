package events

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-gateway/internal/adapter"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ stdcontext.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewEvent(t *testing.T) {
	result := adapter.Result{
		Success:           true,
		TransactionID:     adapter.StringPtr("123"),
		Status:            adapter.StatusApproved,
		MerchantAccountID: "m-1",
	}
	event := NewEvent(TypeRefundProcessed, adapter.GatewayCardConnect, result)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, TypeRefundProcessed, event.Type)
	assert.Equal(t, 2, event.GatewayType)
	assert.Equal(t, "m-1", event.MerchantAccountID)
	assert.Equal(t, 200, event.StatusCode)
	assert.Equal(t, "123", *event.TransactionID)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &recordingWriter{}
	p := NewKafkaPublisher(w, nil)

	event := NewEvent(TypePaymentProcessed, adapter.GatewayPayload, adapter.Result{MerchantAccountID: "m-2", Status: adapter.StatusBadRequest})
	require.NoError(t, p.Publish(stdcontext.Background(), event))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, []byte("m-2"), msg.Key)
	assert.Equal(t, "type", msg.Headers[0].Key)
	assert.Equal(t, []byte(TypePaymentProcessed), msg.Headers[0].Value)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "payment.processed", decoded["type"])
	assert.Equal(t, float64(1), decoded["gatewayType"])
	assert.Equal(t, float64(400), decoded["statusCode"])
	assert.Nil(t, decoded["transactionId"])
	assert.NotContains(t, decoded, "credentials")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := NewKafkaPublisher(w, nil)

	err := p.Publish(stdcontext.Background(), Event{ID: "e-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish event e-1")
	assert.Contains(t, err.Error(), "broker down")
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "")
	assert.Equal(t, DefaultTopic, w.Topic)
	assert.Equal(t, "localhost:9092", w.Addr.String())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(stdcontext.Background(), Event{}))
	assert.NoError(t, p.Close())
}

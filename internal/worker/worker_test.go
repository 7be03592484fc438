package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"storefront/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	orders []string
	err    error
}

func (s *recordingSender) SendPurchaseReceipt(_ context.Context, order *models.Order) error {
	if s.err != nil {
		return s.err
	}
	s.orders = append(s.orders, order.ID)
	return nil
}

func orderPaidMessage(t *testing.T, orderID string) kafka.Message {
	t.Helper()
	value, err := json.Marshal(models.OrderPaidEvent{
		BaseEvent:   models.BaseEvent{EventID: "evt-1", EventType: models.EventTypeOrderPaid},
		Order:       models.Order{ID: orderID, IsPaid: true, TotalPrice: "10.00"},
		PaymentKind: models.PaymentKindStripe,
	})
	require.NoError(t, err)
	return kafka.Message{Key: []byte("order-" + orderID), Value: value}
}

func TestReceiptWorker_SendsReceiptForOrderPaid(t *testing.T) {
	sender := &recordingSender{}
	w := NewReceiptWorker(nil, sender)

	require.NoError(t, w.eventHandler.HandleMessage(context.Background(), orderPaidMessage(t, "order-1")))
	assert.Equal(t, []string{"order-1"}, sender.orders)
}

func TestReceiptWorker_IgnoresOtherEvents(t *testing.T) {
	sender := &recordingSender{}
	w := NewReceiptWorker(nil, sender)

	msg := kafka.Message{Value: []byte(`{"event_type":"ORDER_CREATED","order_id":"order-1"}`)}
	require.NoError(t, w.eventHandler.HandleMessage(context.Background(), msg))
	assert.Empty(t, sender.orders)
}

func TestReceiptWorker_SenderFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	w := NewReceiptWorker(nil, sender)

	err := w.eventHandler.HandleMessage(context.Background(), orderPaidMessage(t, "order-1"))
	assert.ErrorContains(t, err, "failed to send receipt for order order-1")
}

package worker

import (
	"context"
	"fmt"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/notify"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// ReceiptWorker sends purchase receipts for ORDER_PAID events. It runs off the
// settlement path: a failed receipt never touches payment state.
type ReceiptWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	sender       notify.Sender
	logger       *zap.Logger
}

// NewReceiptWorker creates a new receipt worker
func NewReceiptWorker(consumer *broker.Consumer, sender notify.Sender) *ReceiptWorker {
	w := &ReceiptWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		sender:       sender,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnOrderPaid(w.HandleOrderPaid)
	return w
}

// Start starts the worker
func (w *ReceiptWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting receipt worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ReceiptWorker) Stop() error {
	w.logger.Info("Stopping receipt worker")
	return w.consumer.Close()
}

// HandleOrderPaid hands the paid order to the sender
func (w *ReceiptWorker) HandleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	ctx, span := util.StartSpan(ctx, "ReceiptWorker.HandleOrderPaid")
	defer span.End()

	if err := w.sender.SendPurchaseReceipt(ctx, &event.Order); err != nil {
		util.ReceiptsSentTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to send receipt for order %s: %w", event.Order.ID, err)
	}

	util.ReceiptsSentTotal.WithLabelValues("sent").Inc()
	w.logger.Info("Receipt sent",
		zap.String("order_id", event.Order.ID),
		zap.String("event_id", event.EventID),
		zap.String("kind", string(event.PaymentKind)))
	return nil
}

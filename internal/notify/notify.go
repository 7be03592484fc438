// Package notify delivers customer-facing messages about orders.
package notify

import (
	"context"
	"errors"

	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// Sender delivers a purchase receipt for a paid order
type Sender interface {
	SendPurchaseReceipt(ctx context.Context, order *models.Order) error
}

// LogSender writes receipts to the structured log. It stands in for a mail
// provider until one is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a receipt sender backed by the global logger
func NewLogSender() *LogSender {
	return &LogSender{logger: util.GetLogger()}
}

// SendPurchaseReceipt logs the receipt for a paid order
func (s *LogSender) SendPurchaseReceipt(ctx context.Context, order *models.Order) error {
	_, span := util.StartSpan(ctx, "LogSender.SendPurchaseReceipt")
	defer span.End()

	if !order.IsPaid {
		return errors.New("receipt requested for unpaid order")
	}

	fields := []zap.Field{
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("recipient", order.ShippingAddress.FullName),
		zap.String("items_price", order.ItemsPrice),
		zap.String("shipping_price", order.ShippingPrice),
		zap.String("tax_price", order.TaxPrice),
		zap.String("total_price", order.TotalPrice),
		zap.Int("lines", len(order.OrderItems)),
	}
	if order.PaymentResult != nil {
		fields = append(fields, zap.String("payment_kind", string(order.PaymentResult.Kind)))
	}

	s.logger.Info("Purchase receipt", fields...)
	return nil
}

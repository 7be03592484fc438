package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/pricing"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// WebhookOutcome says what a verified webhook delivery led to
type WebhookOutcome string

const (
	WebhookSettled     WebhookOutcome = "settled"
	WebhookAlreadyPaid WebhookOutcome = "already_paid"
	WebhookDuplicate   WebhookOutcome = "duplicate"
	WebhookIgnored     WebhookOutcome = "ignored"
)

// ApprovePaypalRequest carries the PayPal order id returned to the browser
type ApprovePaypalRequest struct {
	OrderID string `json:"orderID" binding:"required"`
}

// PaymentService settles orders. Every payment path ends in MarkOrderPaid.
type PaymentService struct {
	orders    OrderStore
	paypal    PaypalGateway
	verifier  WebhookVerifier
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(orders OrderStore, paypal PaypalGateway, verifier WebhookVerifier, publisher EventPublisher) *PaymentService {
	return &PaymentService{
		orders:    orders,
		paypal:    paypal,
		verifier:  verifier,
		publisher: publisher,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// MarkOrderPaid is the pay transition: flag the order paid, attach result and
// decrement stock exactly once. A second call returns models.ErrAlreadyPaid
// and changes nothing. The receipt event goes out after commit; publish
// failures are logged, never returned.
func (ps *PaymentService) MarkOrderPaid(ctx context.Context, orderID string, result *models.PaymentResult) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.MarkOrderPaid")
	defer span.End()

	kind := models.PaymentKindCash
	if result != nil {
		kind = result.Kind
	}

	order, err := ps.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsPaid {
		util.DuplicateSettlementsTotal.WithLabelValues(string(kind)).Inc()
		return nil, models.ErrAlreadyPaid
	}

	paid, levels, err := ps.orders.MarkOrderPaid(ctx, orderID, result, ps.now())
	if errors.Is(err, models.ErrAlreadyPaid) {
		util.DuplicateSettlementsTotal.WithLabelValues(string(kind)).Inc()
		ps.logger.Info("Concurrent settlement lost the race", zap.String("order_id", orderID))
		return nil, err
	}
	if err != nil {
		util.PaymentFailedTotal.WithLabelValues(string(kind), "store_error").Inc()
		return nil, fmt.Errorf("failed to mark order paid: %w", err)
	}

	for _, level := range levels {
		if level.Stock < 0 {
			util.StockOversoldTotal.Inc()
			ps.logger.Warn("Stock went negative at settlement",
				zap.String("order_id", orderID),
				zap.String("product_id", level.ProductID),
				zap.Int("stock", level.Stock))
		}
	}

	util.OrdersPaidTotal.WithLabelValues(string(kind)).Inc()
	ps.logger.Info("Order paid",
		zap.String("order_id", orderID),
		zap.String("kind", string(kind)),
		zap.String("total_price", paid.TotalPrice))

	if err := ps.publisher.PublishOrderPaid(ctx, paid, kind); err != nil {
		ps.logger.Error("Failed to publish OrderPaid event", zap.String("order_id", orderID), zap.Error(err))
	}
	return paid, nil
}

// CreatePaypalOrder opens a PayPal order for the order total and stores its id
// as the pending marker that approval is checked against
func (ps *PaymentService) CreatePaypalOrder(ctx context.Context, id models.Identity, orderID string) (string, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePaypalOrder")
	defer span.End()

	order, err := ps.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if err := authorizeOrder(id, order); err != nil {
		return "", err
	}
	if order.IsPaid {
		return "", models.ErrAlreadyPaid
	}

	remoteID, err := ps.paypal.CreateOrder(ctx, order.TotalPrice)
	if err != nil {
		util.PaymentFailedTotal.WithLabelValues(string(models.PaymentKindPayPal), "processor_error").Inc()
		return "", fmt.Errorf("failed to create paypal order: %w", err)
	}

	if err := ps.orders.SetPaymentResult(ctx, orderID, models.PendingCapture(remoteID)); err != nil {
		return "", fmt.Errorf("failed to store pending paypal order: %w", err)
	}

	ps.logger.Info("PayPal order pending",
		zap.String("order_id", orderID),
		zap.String("paypal_order_id", remoteID))
	return remoteID, nil
}

// ApprovePaypalOrder captures the approved PayPal order. The capture must match
// the pending PayPal order id stored on the order and be COMPLETED, otherwise
// models.ErrPaymentValidation is returned and the order stays unpaid. Approving
// an order already paid by the same PayPal order returns it unchanged.
func (ps *PaymentService) ApprovePaypalOrder(ctx context.Context, id models.Identity, orderID, paypalOrderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ApprovePaypalOrder")
	defer span.End()

	order, err := ps.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOrder(id, order); err != nil {
		return nil, err
	}
	if order.IsPaid {
		return ps.repeatedApproval(order, paypalOrderID)
	}

	capture, err := ps.paypal.CaptureOrder(ctx, paypalOrderID)
	if err != nil {
		util.PaymentFailedTotal.WithLabelValues(string(models.PaymentKindPayPal), "processor_error").Inc()
		return nil, fmt.Errorf("failed to capture paypal order: %w", err)
	}

	pending := order.PaymentResult.PendingRemoteID()
	if pending == "" || capture.ID != pending || capture.Status != models.CaptureStatusCompleted {
		util.PaymentFailedTotal.WithLabelValues(string(models.PaymentKindPayPal), "validation").Inc()
		ps.logger.Warn("PayPal capture rejected",
			zap.String("order_id", orderID),
			zap.String("pending_id", pending),
			zap.String("capture_id", capture.ID),
			zap.String("status", capture.Status))
		return nil, fmt.Errorf("%w: error in paypal payment", models.ErrPaymentValidation)
	}

	paid, err := ps.MarkOrderPaid(ctx, orderID, models.CompletedCapture(
		capture.ID, capture.Status, capture.EmailAddress, capture.PricePaid))
	if errors.Is(err, models.ErrAlreadyPaid) {
		current, getErr := ps.orders.GetOrderByID(ctx, orderID)
		if getErr != nil {
			return nil, getErr
		}
		return ps.repeatedApproval(current, paypalOrderID)
	}
	return paid, err
}

// repeatedApproval answers an approval for an order that is already paid
func (ps *PaymentService) repeatedApproval(order *models.Order, paypalOrderID string) (*models.Order, error) {
	if order.PaymentResult.PendingRemoteID() != paypalOrderID {
		return nil, models.ErrAlreadyPaid
	}
	ps.logger.Info("PayPal approval repeated",
		zap.String("order_id", order.ID),
		zap.String("paypal_order_id", paypalOrderID))
	return order, nil
}

// HandleStripeWebhook verifies and applies a card processor event. Nothing is
// read from the payload before the signature checks out. Only charge.succeeded
// settles; other types are acknowledged and ignored.
func (ps *PaymentService) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (WebhookOutcome, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleStripeWebhook")
	defer span.End()

	event, err := ps.verifier.Verify(payload, signature)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		ps.logger.Warn("Webhook rejected", zap.Error(err))
		return "", err
	}

	if event.Type != models.EventChargeSucceeded {
		util.WebhookEventsTotal.WithLabelValues(event.Type, string(WebhookIgnored)).Inc()
		ps.logger.Debug("Webhook event ignored", zap.String("event_id", event.ID), zap.String("type", event.Type))
		return WebhookIgnored, nil
	}

	if event.ID != "" {
		processed, err := ps.orders.IsEventProcessed(ctx, event.ID)
		if err != nil {
			return "", fmt.Errorf("failed to check event: %w", err)
		}
		if processed {
			util.WebhookEventsTotal.WithLabelValues(event.Type, string(WebhookDuplicate)).Inc()
			ps.logger.Info("Webhook event already processed", zap.String("event_id", event.ID))
			return WebhookDuplicate, nil
		}
	}

	if event.OrderID == "" {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "invalid").Inc()
		return "", fmt.Errorf("%w: charge %s has no orderId metadata", models.ErrValidation, event.ChargeID)
	}

	outcome := WebhookSettled
	_, err = ps.MarkOrderPaid(ctx, event.OrderID, models.ChargeSucceeded(
		event.ChargeID, event.Email, event.AmountMinor, pricing.FormatMinorUnits(event.AmountMinor)))
	switch {
	case errors.Is(err, models.ErrAlreadyPaid):
		outcome = WebhookAlreadyPaid
	case err != nil:
		util.WebhookEventsTotal.WithLabelValues(event.Type, "failed").Inc()
		return "", err
	}

	if event.ID != "" {
		if err := ps.orders.MarkEventProcessed(ctx, event.ID, event.Type); err != nil {
			ps.logger.Error("Failed to record processed event", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	util.WebhookEventsTotal.WithLabelValues(event.Type, string(outcome)).Inc()
	return outcome, nil
}

// MarkCodOrderPaid is the admin confirmation that cash was collected
func (ps *PaymentService) MarkCodOrderPaid(ctx context.Context, id models.Identity, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.MarkCodOrderPaid")
	defer span.End()

	if !id.IsAdmin() {
		return nil, fmt.Errorf("%w: admin only", models.ErrUnauthorized)
	}
	return ps.MarkOrderPaid(ctx, orderID, models.CashPayment())
}

// MarkOrderDelivered is the admin-only delivery confirmation. The order must be paid.
func (ps *PaymentService) MarkOrderDelivered(ctx context.Context, id models.Identity, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.MarkOrderDelivered")
	defer span.End()

	if !id.IsAdmin() {
		return nil, fmt.Errorf("%w: admin only", models.ErrUnauthorized)
	}

	order, err := ps.orders.MarkOrderDelivered(ctx, orderID, ps.now())
	if err != nil {
		return nil, err
	}

	util.OrdersDeliveredTotal.Inc()
	ps.logger.Info("Order delivered", zap.String("order_id", orderID))

	if err := ps.publisher.PublishOrderDelivered(ctx, order); err != nil {
		ps.logger.Error("Failed to publish OrderDelivered event", zap.String("order_id", orderID), zap.Error(err))
	}
	return order, nil
}

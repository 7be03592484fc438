package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// Where checkout sends the customer when a precondition is missing
const (
	RedirectCart            = "/cart"
	RedirectShippingAddress = "/shipping-address"
	RedirectPaymentMethod   = "/payment-method"
)

// CreateOrderResult is the outcome of a checkout attempt. A failed result with
// RedirectTo set names the step the customer has to complete first.
type CreateOrderResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	OrderID    string `json:"orderId,omitempty"`
	RedirectTo string `json:"redirectTo,omitempty"`
}

// IsRedirect reports whether the result is a remediation redirect
func (r *CreateOrderResult) IsRedirect() bool {
	return !r.Success && r.RedirectTo != ""
}

func redirect(to, message string) *CreateOrderResult {
	return &CreateOrderResult{Success: false, Message: message, RedirectTo: to}
}

// OrderPage is one page of a customer's order history
type OrderPage struct {
	Orders     []models.Order `json:"orders"`
	Page       int            `json:"page"`
	TotalPages int            `json:"totalPages"`
	Total      int            `json:"total"`
}

// OrderService assembles orders from carts and serves order reads
type OrderService struct {
	carts     CartStore
	orders    OrderStore
	users     UserStore
	cache     CartCache
	locker    Locker
	publisher EventPublisher
	lockTTL   time.Duration
	pageSize  int
	logger    *zap.Logger
}

// NewOrderService creates a new order service. cache and locker may be nil.
func NewOrderService(
	carts CartStore,
	orders OrderStore,
	users UserStore,
	cache CartCache,
	locker Locker,
	publisher EventPublisher,
	lockTTL time.Duration,
	pageSize int,
) *OrderService {
	if pageSize <= 0 {
		pageSize = 2
	}
	return &OrderService{
		carts:     carts,
		orders:    orders,
		users:     users,
		cache:     cache,
		locker:    locker,
		publisher: publisher,
		lockTTL:   lockTTL,
		pageSize:  pageSize,
		logger:    util.GetLogger(),
	}
}

// CreateOrder turns the signed-in user's cart into an order. Missing
// preconditions come back as redirect results, not errors.
func (s *OrderService) CreateOrder(ctx context.Context, id models.Identity) (*CreateOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if !id.Authenticated() {
		return nil, fmt.Errorf("%w: sign in to place an order", models.ErrUnauthorized)
	}

	release, ok := s.lockCheckout(ctx, id.UserID)
	if !ok {
		return &CreateOrderResult{Success: false, Message: "Checkout already in progress"}, nil
	}
	defer release()

	cart, err := s.carts.GetCartByUserID(ctx, id.UserID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart == nil || len(cart.Items) == 0 {
		util.CheckoutRedirectsTotal.WithLabelValues("empty_cart").Inc()
		return redirect(RedirectCart, "Your cart is empty"), nil
	}

	user, err := s.users.GetUserByID(ctx, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.Address == nil {
		util.CheckoutRedirectsTotal.WithLabelValues("no_address").Inc()
		return redirect(RedirectShippingAddress, "No shipping address"), nil
	}
	if user.PaymentMethod == nil || *user.PaymentMethod == "" {
		util.CheckoutRedirectsTotal.WithLabelValues("no_payment_method").Inc()
		return redirect(RedirectPaymentMethod, "No payment method"), nil
	}

	order, err := s.orders.CreateOrderFromCart(ctx, cart.ID, models.OrderDraft{
		UserID:          user.ID,
		ShippingAddress: *user.Address,
		PaymentMethod:   *user.PaymentMethod,
	})
	if errors.Is(err, models.ErrEmptyCart) {
		util.CheckoutRedirectsTotal.WithLabelValues("empty_cart").Inc()
		return redirect(RedirectCart, "Your cart is empty"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("total_price", order.TotalPrice),
		zap.Int("items", len(order.OrderItems)))

	if s.cache != nil {
		emptied := *cart
		emptied.Items = models.CartItems{}
		emptied.SetTotals(models.ZeroTotals)
		if err := s.cache.SetCart(ctx, CartKey(id), &emptied); err != nil {
			s.logger.Warn("Cart cache write failed", zap.Error(err))
			if err := s.cache.InvalidateCart(ctx, CartKey(id)); err != nil {
				s.logger.Warn("Cart cache invalidation failed", zap.Error(err))
			}
		}
	}

	if err := s.publisher.PublishOrderCreated(ctx, order); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.String("order_id", order.ID), zap.Error(err))
	}

	return &CreateOrderResult{
		Success:    true,
		Message:    "Order created",
		OrderID:    order.ID,
		RedirectTo: "/order/" + order.ID,
	}, nil
}

// lockCheckout serializes checkout per user. Lock errors are logged and ignored:
// the cart row lock inside the order transaction is what keeps checkout correct.
func (s *OrderService) lockCheckout(ctx context.Context, userID string) (func(), bool) {
	noop := func() {}
	if s.locker == nil {
		return noop, true
	}

	key := "checkout:" + userID
	token, ok, err := s.locker.AcquireLock(ctx, key, s.lockTTL)
	if err != nil {
		s.logger.Warn("Checkout lock unavailable", zap.String("user_id", userID), zap.Error(err))
		return noop, true
	}
	if !ok {
		return noop, false
	}

	return func() {
		if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Warn("Failed to release checkout lock", zap.String("user_id", userID), zap.Error(err))
		}
	}, true
}

// GetOrder returns an order with its items. Customers only see their own orders.
func (s *OrderService) GetOrder(ctx context.Context, id models.Identity, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOrder(id, order); err != nil {
		return nil, err
	}
	return order, nil
}

// ListMyOrders returns the given page (1-based) of the user's orders, newest first
func (s *OrderService) ListMyOrders(ctx context.Context, id models.Identity, page int) (*OrderPage, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListMyOrders")
	defer span.End()

	if !id.Authenticated() {
		return nil, models.ErrUnauthorized
	}
	if page < 1 {
		page = 1
	}

	orders, total, err := s.orders.ListOrdersByUserID(ctx, id.UserID, s.pageSize, (page-1)*s.pageSize)
	if err != nil {
		return nil, err
	}

	return &OrderPage{
		Orders:     orders,
		Page:       page,
		TotalPages: (total + s.pageSize - 1) / s.pageSize,
		Total:      total,
	}, nil
}

func authorizeOrder(id models.Identity, order *models.Order) error {
	if id.IsAdmin() || (id.Authenticated() && order.UserID == id.UserID) {
		return nil
	}
	return fmt.Errorf("%w: order %s", models.ErrUnauthorized, order.ID)
}

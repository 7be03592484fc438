package service

import (
	"context"
	"time"

	"storefront/internal/models"
)

// CartMutation edits a locked cart in place. product is nil when the mutation
// was requested without a product id.
type CartMutation = func(cart *models.Cart, product *models.Product) error

// CartStore persists carts. Lookups return models.ErrNotFound when no cart exists.
type CartStore interface {
	GetCartByUserID(ctx context.Context, userID string) (*models.Cart, error)
	GetCartBySessionID(ctx context.Context, sessionCartID string) (*models.Cart, error)
	// MutateCart locks the owner's cart, applies fn and saves the result in one
	// transaction. With create set a missing cart is started empty, otherwise
	// models.ErrNotFound is returned. An error from fn discards the change.
	MutateCart(ctx context.Context, owner models.Identity, productID string, create bool, fn CartMutation) (*models.Cart, error)
	// AssignCartToUser hands the session cart to userID, deleting any cart the
	// user already had. Reports false when the session has no cart.
	AssignCartToUser(ctx context.Context, sessionCartID, userID string) (bool, error)
}

// OrderStore persists orders and runs the pay transition
type OrderStore interface {
	// CreateOrderFromCart snapshots the locked cart into a new order with its
	// items and clears the cart. Returns models.ErrEmptyCart if the cart has no lines.
	CreateOrderFromCart(ctx context.Context, cartID string, draft models.OrderDraft) (*models.Order, error)
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	ListOrdersByUserID(ctx context.Context, userID string, limit, offset int) ([]models.Order, int, error)
	// SetPaymentResult replaces the payment result of an unpaid order
	SetPaymentResult(ctx context.Context, orderID string, result *models.PaymentResult) error
	// MarkOrderPaid flips is_paid, records the result and decrements stock for
	// every item in one transaction. Returns models.ErrAlreadyPaid if another
	// writer got there first.
	MarkOrderPaid(ctx context.Context, orderID string, result *models.PaymentResult, paidAt time.Time) (*models.Order, []models.StockLevel, error)
	MarkOrderDelivered(ctx context.Context, orderID string, deliveredAt time.Time) (*models.Order, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// UserStore reads and updates the checkout profile
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUserAddress(ctx context.Context, userID string, address models.ShippingAddress) error
	UpdateUserPaymentMethod(ctx context.Context, userID, method string) error
}

// CartCache is a read-through cache in front of the cart store. GetCart
// returns nil, nil on a miss. SetCart overwrites; FillCart writes only when the
// key is absent and reports whether it did.
type CartCache interface {
	GetCart(ctx context.Context, key string) (*models.Cart, error)
	SetCart(ctx context.Context, key string, cart *models.Cart) error
	FillCart(ctx context.Context, key string, cart *models.Cart) (bool, error)
	InvalidateCart(ctx context.Context, keys ...string) error
	InvalidateProduct(ctx context.Context, productID string) error
}

// Locker hands out short-lived exclusive locks
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// EventPublisher announces order lifecycle changes
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderPaid(ctx context.Context, order *models.Order, kind models.PaymentKind) error
	PublishOrderDelivered(ctx context.Context, order *models.Order) error
}

// PaypalGateway is the redirect/capture processor
type PaypalGateway interface {
	CreateOrder(ctx context.Context, amount string) (string, error)
	CaptureOrder(ctx context.Context, remoteID string) (*models.ExternalCapture, error)
}

// WebhookVerifier authenticates a raw card processor event
type WebhookVerifier interface {
	Verify(payload []byte, signatureHeader string) (*models.WebhookEvent, error)
}

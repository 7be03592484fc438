package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/pricing"
	"storefront/internal/store/memstore"

	"github.com/stretchr/testify/require"
)

type publishedEvent struct {
	Type    string
	OrderID string
	Kind    models.PaymentKind
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *fakePublisher) record(eventType string, order *models.Order, kind models.PaymentKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Type: eventType, OrderID: order.ID, Kind: kind})
	return p.err
}

func (p *fakePublisher) PublishOrderCreated(_ context.Context, order *models.Order) error {
	return p.record(models.EventTypeOrderCreated, order, "")
}

func (p *fakePublisher) PublishOrderPaid(_ context.Context, order *models.Order, kind models.PaymentKind) error {
	return p.record(models.EventTypeOrderPaid, order, kind)
}

func (p *fakePublisher) PublishOrderDelivered(_ context.Context, order *models.Order) error {
	return p.record(models.EventTypeOrderDelivered, order, "")
}

func (p *fakePublisher) ofType(eventType string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakePaypal struct {
	remoteID     string
	capture      *models.ExternalCapture
	err          error
	capturedWith string
	amount       string
	onCapture    func()
}

func (f *fakePaypal) CreateOrder(_ context.Context, amount string) (string, error) {
	f.amount = amount
	return f.remoteID, f.err
}

func (f *fakePaypal) CaptureOrder(_ context.Context, remoteID string) (*models.ExternalCapture, error) {
	f.capturedWith = remoteID
	if f.onCapture != nil {
		f.onCapture()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.capture, nil
}

type fakeVerifier struct {
	event *models.WebhookEvent
	err   error
}

func (f *fakeVerifier) Verify([]byte, string) (*models.WebhookEvent, error) {
	return f.event, f.err
}

type fakeCache struct {
	mu          sync.Mutex
	carts       map[string]*models.Cart
	invalidated []string
	products    []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{carts: make(map[string]*models.Cart)}
}

func (c *fakeCache) GetCart(_ context.Context, key string) (*models.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.carts[key], nil
}

func (c *fakeCache) SetCart(_ context.Context, key string, cart *models.Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carts[key] = cart
	return nil
}

func (c *fakeCache) FillCart(_ context.Context, key string, cart *models.Cart) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.carts[key]; ok {
		return false, nil
	}
	c.carts[key] = cart
	return true, nil
}

func (c *fakeCache) InvalidateCart(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.carts, k)
		c.invalidated = append(c.invalidated, k)
	}
	return nil
}

func (c *fakeCache) InvalidateProduct(_ context.Context, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products = append(c.products, productID)
	return nil
}

type fakeLocker struct {
	held map[string]bool
}

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	if l.held[key] {
		return "", false, nil
	}
	l.held[key] = true
	return "token", true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key, _ string) error {
	delete(l.held, key)
	return nil
}

// fixture wires the services over an in-memory store
type fixture struct {
	store     *memstore.Store
	cache     *fakeCache
	publisher *fakePublisher
	paypal    *fakePaypal
	verifier  *fakeVerifier
	locker    *fakeLocker
	carts     *CartService
	orders    *OrderService
	users     *UserService
	payments  *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine, err := pricing.NewEngine("1000", "100", "0.18")
	require.NoError(t, err)

	f := &fixture{
		store:     memstore.New(),
		cache:     newFakeCache(),
		publisher: &fakePublisher{},
		paypal:    &fakePaypal{},
		verifier:  &fakeVerifier{},
		locker:    &fakeLocker{held: make(map[string]bool)},
	}
	f.carts = NewCartService(f.store, engine, f.cache)
	f.orders = NewOrderService(f.store, f.store, f.store, f.cache, f.locker, f.publisher, 10*time.Second, 2)
	f.users = NewUserService(f.store, []string{models.PaymentMethodPayPal, models.PaymentMethodStripe, models.PaymentMethodCashOnDelivery})
	f.payments = NewPaymentService(f.store, f.paypal, f.verifier, f.publisher)
	return f
}

func (f *fixture) product(t *testing.T, name, price string, stock int) *models.Product {
	t.Helper()
	p := &models.Product{Name: name, Slug: name, Image: "/images/" + name + ".jpg", Price: price, Stock: stock}
	require.NoError(t, f.store.CreateProduct(context.Background(), p))
	return p
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := f.store.GetProductByID(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

// customer creates a user with a complete checkout profile
func (f *fixture) customer(t *testing.T, email string) models.Identity {
	t.Helper()
	ctx := context.Background()
	user := &models.User{Name: "Jane Doe", Email: email}
	require.NoError(t, f.store.CreateUser(ctx, user))

	id := models.Identity{SessionCartID: "session-" + email, UserID: user.ID, Role: models.RoleUser}
	require.NoError(t, f.users.SaveAddress(ctx, id, testAddress()))
	require.NoError(t, f.users.SavePaymentMethod(ctx, id, models.PaymentMethodPayPal))
	return id
}

// placeOrder puts qty units of product in the customer's cart and checks out
func (f *fixture) placeOrder(t *testing.T, id models.Identity, product *models.Product, qty int) *models.Order {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < qty; i++ {
		_, err := f.carts.AddItem(ctx, id, product.ID)
		require.NoError(t, err)
	}
	result, err := f.orders.CreateOrder(ctx, id)
	require.NoError(t, err)
	require.True(t, result.Success, result.Message)

	order, err := f.store.GetOrderByID(ctx, result.OrderID)
	require.NoError(t, err)
	return order
}

func testAddress() models.ShippingAddress {
	return models.ShippingAddress{
		FullName:      "Jane Doe",
		StreetAddress: "1 Main Street",
		City:          "Springfield",
		PostalCode:    "12345",
		Country:       "USA",
	}
}

var adminID = models.Identity{SessionCartID: "admin-session", UserID: "admin-1", Role: models.RoleAdmin}

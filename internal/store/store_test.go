//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	testpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := testpostgres.Run(ctx,
		"postgres:16-alpine",
		testpostgres.WithDatabase("storefront"),
		testpostgres.WithUsername("test"),
		testpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := NewStore(connStr)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(filepath.Join(findProjectRoot(t), "migrations")))
	return store
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

func seedProduct(t *testing.T, s *Store, slug, price string, stock int) *models.Product {
	t.Helper()
	product := &models.Product{Name: slug, Slug: slug, Image: "/images/" + slug + ".jpg", Price: price, Stock: stock}
	require.NoError(t, s.CreateProduct(context.Background(), product))
	return product
}

func seedUser(t *testing.T, s *Store, email string) *models.User {
	t.Helper()
	user := &models.User{Name: "Test User", Email: email}
	require.NoError(t, s.CreateUser(context.Background(), user))
	return user
}

func addLine(product *models.Product, qty int) func(cart *models.Cart, _ *models.Product) error {
	return func(cart *models.Cart, _ *models.Product) error {
		cart.Items = append(cart.Items, models.CartItem{
			ProductID: product.ID,
			Name:      product.Name,
			Slug:      product.Slug,
			Image:     product.Image,
			Price:     product.Price,
			Quantity:  qty,
		})
		cart.SetTotals(models.Totals{ItemsPrice: "20.00", ShippingPrice: "100.00", TaxPrice: "3.60", TotalPrice: "123.60"})
		return nil
	}
}

func TestMutateCart(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "mug", "10.00", 5)
	owner := models.Identity{SessionCartID: "session-1"}

	_, err := s.MutateCart(ctx, owner, "", false, func(*models.Cart, *models.Product) error { return nil })
	assert.ErrorIs(t, err, models.ErrNotFound)

	cart, err := s.MutateCart(ctx, owner, product.ID, true, addLine(product, 2))
	require.NoError(t, err)
	assert.Equal(t, models.OwnerSession, cart.OwnerKind())

	stored, err := s.GetCartBySessionID(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, cart.ID, stored.ID)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 2, stored.Items[0].Quantity)
	assert.Equal(t, "123.60", stored.TotalPrice)

	_, err = s.MutateCart(ctx, owner, "00000000-0000-0000-0000-000000000000", false,
		func(*models.Cart, *models.Product) error { return nil })
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMutateCartRollsBackOnError(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "lamp", "10.00", 1)
	owner := models.Identity{SessionCartID: "session-2"}

	_, err := s.MutateCart(ctx, owner, product.ID, true, addLine(product, 1))
	require.NoError(t, err)

	_, err = s.MutateCart(ctx, owner, product.ID, false, func(cart *models.Cart, _ *models.Product) error {
		cart.Items[0].Quantity = 99
		return models.ErrInsufficientStock
	})
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	stored, err := s.GetCartBySessionID(ctx, "session-2")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Items[0].Quantity)
}

func TestAssignCartToUserDiscardsPreviousCart(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "chair", "10.00", 5)
	user := seedUser(t, s, "merge@example.com")

	_, err := s.MutateCart(ctx, models.Identity{SessionCartID: "old", UserID: user.ID}, product.ID, true, addLine(product, 3))
	require.NoError(t, err)
	sessionCart, err := s.MutateCart(ctx, models.Identity{SessionCartID: "new"}, product.ID, true, addLine(product, 1))
	require.NoError(t, err)

	assigned, err := s.AssignCartToUser(ctx, "new", user.ID)
	require.NoError(t, err)
	assert.True(t, assigned)

	userCart, err := s.GetCartByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, sessionCart.ID, userCart.ID)
	assert.Equal(t, 1, userCart.Items[0].Quantity)

	assigned, err = s.AssignCartToUser(ctx, "missing", user.ID)
	require.NoError(t, err)
	assert.False(t, assigned)
}

func TestMalformedUserIDIsRejected(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "stool", "10.00", 5)
	owner := models.Identity{SessionCartID: "session-bad", UserID: "not-a-uuid", Role: models.RoleUser}

	_, err := s.MutateCart(ctx, owner, product.ID, true, addLine(product, 1))
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = s.AssignCartToUser(ctx, "session-bad", "not-a-uuid")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = s.GetCartByUserID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = s.UpdateUserPaymentMethod(ctx, "not-a-uuid", models.PaymentMethodPayPal)
	assert.ErrorIs(t, err, models.ErrNotFound)

	orders, total, err := s.ListOrdersByUserID(ctx, "not-a-uuid", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Zero(t, total)
}

func createOrder(t *testing.T, s *Store, user *models.User, product *models.Product, qty int) *models.Order {
	t.Helper()
	ctx := context.Background()
	cart, err := s.MutateCart(ctx, models.Identity{SessionCartID: "checkout", UserID: user.ID}, product.ID, true, addLine(product, qty))
	require.NoError(t, err)

	order, err := s.CreateOrderFromCart(ctx, cart.ID, models.OrderDraft{
		UserID: user.ID,
		ShippingAddress: models.ShippingAddress{
			FullName: "Jane Doe", StreetAddress: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "USA",
		},
		PaymentMethod: models.PaymentMethodPayPal,
	})
	require.NoError(t, err)
	return order
}

func TestCreateOrderFromCart(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "desk", "10.00", 5)
	user := seedUser(t, s, "order@example.com")

	order := createOrder(t, s, user, product, 2)

	stored, err := s.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "123.60", stored.TotalPrice)
	assert.False(t, stored.IsPaid)
	require.Len(t, stored.OrderItems, 1)
	assert.Equal(t, 2, stored.OrderItems[0].Quantity)
	assert.Equal(t, "Springfield", stored.ShippingAddress.City)

	cart, err := s.GetCartByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Equal(t, "0.00", cart.TotalPrice)

	_, err = s.CreateOrderFromCart(ctx, cart.ID, models.OrderDraft{UserID: user.ID})
	assert.ErrorIs(t, err, models.ErrEmptyCart)
}

func TestMarkOrderPaidOnlyOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "sofa", "10.00", 5)
	user := seedUser(t, s, "pay@example.com")
	order := createOrder(t, s, user, product, 2)

	require.NoError(t, s.SetPaymentResult(ctx, order.ID, models.PendingCapture("REMOTE-1")))

	const attempts = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		already   int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.MarkOrderPaid(ctx, order.ID, models.CashPayment(), time.Now())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if assert.ErrorIs(t, err, models.ErrAlreadyPaid) {
				already++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, already)

	stored, err := s.GetProductByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Stock)

	paid, err := s.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, models.PaymentKindCash, paid.PaymentResult.Kind)

	assert.ErrorIs(t, s.SetPaymentResult(ctx, order.ID, models.PendingCapture("REMOTE-2")), models.ErrAlreadyPaid)
}

func TestMarkOrderPaidCrossedOrdersSettleTogether(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	first := seedProduct(t, s, "lamp", "10.00", 100)
	second := seedProduct(t, s, "shade", "10.00", 100)

	twoLines := func(a, b *models.Product) func(cart *models.Cart, _ *models.Product) error {
		return func(cart *models.Cart, p *models.Product) error {
			if err := addLine(a, 1)(cart, p); err != nil {
				return err
			}
			return addLine(b, 1)(cart, p)
		}
	}

	const pairs = 10
	var orderIDs []string
	for i := 0; i < pairs*2; i++ {
		user := seedUser(t, s, fmt.Sprintf("crossed-%d@example.com", i))
		lines := twoLines(first, second)
		if i%2 == 1 {
			lines = twoLines(second, first)
		}
		cart, err := s.MutateCart(ctx, models.Identity{SessionCartID: "crossed", UserID: user.ID}, "", true, lines)
		require.NoError(t, err)

		order, err := s.CreateOrderFromCart(ctx, cart.ID, models.OrderDraft{
			UserID: user.ID,
			ShippingAddress: models.ShippingAddress{
				FullName: "Jane Doe", StreetAddress: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "USA",
			},
			PaymentMethod: models.PaymentMethodCashOnDelivery,
		})
		require.NoError(t, err)
		orderIDs = append(orderIDs, order.ID)
	}

	start := make(chan struct{})
	errs := make(chan error, len(orderIDs))
	var wg sync.WaitGroup
	for _, id := range orderIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			_, _, err := s.MarkOrderPaid(ctx, id, models.CashPayment(), time.Now())
			errs <- err
		}(id)
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	for _, p := range []*models.Product{first, second} {
		stored, err := s.GetProductByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 100-pairs*2, stored.Stock)
	}
}

func TestMarkOrderPaidKeepsPendingResultWhenNoneGiven(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "rug", "10.00", 5)
	user := seedUser(t, s, "keep@example.com")
	order := createOrder(t, s, user, product, 1)

	require.NoError(t, s.SetPaymentResult(ctx, order.ID, models.PendingCapture("REMOTE-3")))
	paid, levels, err := s.MarkOrderPaid(ctx, order.ID, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "REMOTE-3", paid.PaymentResult.PendingRemoteID())
	require.Len(t, levels, 1)
	assert.Equal(t, 4, levels[0].Stock)
}

func TestMarkOrderDelivered(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "shelf", "10.00", 5)
	user := seedUser(t, s, "deliver@example.com")
	order := createOrder(t, s, user, product, 1)

	_, err := s.MarkOrderDelivered(ctx, order.ID, time.Now())
	assert.ErrorIs(t, err, models.ErrNotPaid)

	_, _, err = s.MarkOrderPaid(ctx, order.ID, models.CashPayment(), time.Now())
	require.NoError(t, err)

	delivered, err := s.MarkOrderDelivered(ctx, order.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, delivered.IsDelivered)

	_, err = s.MarkOrderDelivered(ctx, order.ID, time.Now())
	assert.ErrorIs(t, err, models.ErrAlreadyDelivered)

	_, err = s.MarkOrderDelivered(ctx, "5d0e4c3a-9a43-4b0e-8a59-3b1c6d1f0a11", time.Now())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListOrdersByUserID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "vase", "10.00", 10)
	user := seedUser(t, s, "list@example.com")

	for i := 0; i < 3; i++ {
		createOrder(t, s, user, product, 1)
	}

	page, total, err := s.ListOrdersByUserID(ctx, user.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)
	assert.False(t, page[0].CreatedAt.Before(page[1].CreatedAt))

	page, _, err = s.ListOrdersByUserID(ctx, user.ID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestProcessedEvents(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	seen, err := s.IsEventProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkEventProcessed(ctx, "evt_1", "charge.succeeded"))
	require.NoError(t, s.MarkEventProcessed(ctx, "evt_1", "charge.succeeded"))

	seen, err = s.IsEventProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
}

package service

import (
	"context"
	"testing"

	"storefront/internal/models"
	"storefront/internal/pricing"
	"storefront/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartService_AddItemIncrementsExistingLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.product(t, "keyboard", "500.00", 5)
	guest := models.Identity{SessionCartID: "guest-1"}

	_, err := f.carts.AddItem(ctx, guest, product.ID)
	require.NoError(t, err)
	cart, err := f.carts.AddItem(ctx, guest, product.ID)
	require.NoError(t, err)

	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.Equal(t, "keyboard", cart.Items[0].Name)
	assert.Equal(t, "500.00", cart.Items[0].Price)
	assert.Equal(t, models.OwnerSession, cart.OwnerKind())

	// shipping is only free strictly above the threshold
	assert.Equal(t, "1000.00", cart.ItemsPrice)
	assert.Equal(t, "100.00", cart.ShippingPrice)
	assert.Equal(t, "180.00", cart.TaxPrice)
	assert.Equal(t, "1280.00", cart.TotalPrice)
}

func TestCartService_AddItemRejectsQuantityAboveStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.product(t, "mouse", "25.00", 1)
	guest := models.Identity{SessionCartID: "guest-1"}

	before, err := f.carts.AddItem(ctx, guest, product.ID)
	require.NoError(t, err)

	_, err = f.carts.AddItem(ctx, guest, product.ID)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	after, err := f.carts.GetCurrentCart(ctx, guest)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, before.Items, after.Items)
	assert.Equal(t, before.TotalPrice, after.TotalPrice)
}

func TestCartService_AddItemOutOfStockCreatesNoCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.product(t, "monitor", "300.00", 0)
	guest := models.Identity{SessionCartID: "guest-1"}

	_, err := f.carts.AddItem(ctx, guest, product.ID)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	cart, err := f.carts.GetCurrentCart(ctx, guest)
	require.NoError(t, err)
	assert.Nil(t, cart)
}

func TestCartService_AddItemErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.product(t, "cable", "5.00", 10)

	_, err := f.carts.AddItem(ctx, models.Identity{}, product.ID)
	assert.ErrorIs(t, err, models.ErrNoCartSession)

	_, err = f.carts.AddItem(ctx, models.Identity{SessionCartID: "guest-1"}, "missing-product")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCartService_RemoveItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.product(t, "pen", "2.00", 10)
	second := f.product(t, "pad", "4.00", 10)
	guest := models.Identity{SessionCartID: "guest-1"}

	for _, id := range []string{first.ID, first.ID, second.ID} {
		_, err := f.carts.AddItem(ctx, guest, id)
		require.NoError(t, err)
	}

	cart, err := f.carts.RemoveItem(ctx, guest, first.ID)
	require.NoError(t, err)
	require.Len(t, cart.Items, 2)
	assert.Equal(t, 1, cart.Items[0].Quantity)
	assert.Equal(t, "6.00", cart.ItemsPrice)

	cart, err = f.carts.RemoveItem(ctx, guest, first.ID)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, second.ID, cart.Items[0].ProductID)
	assert.Equal(t, "4.00", cart.ItemsPrice)

	_, err = f.carts.RemoveItem(ctx, guest, first.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.carts.RemoveItem(ctx, models.Identity{SessionCartID: "nobody"}, first.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.carts.RemoveItem(ctx, models.Identity{}, first.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCartService_GetCurrentCartUsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.product(t, "lamp", "40.00", 3)
	guest := models.Identity{SessionCartID: "guest-1"}
	key := CartKey(guest)

	cart, err := f.carts.GetCurrentCart(ctx, guest)
	require.NoError(t, err)
	assert.Nil(t, cart)

	added, err := f.carts.AddItem(ctx, guest, product.ID)
	require.NoError(t, err)
	assert.Contains(t, f.cache.products, product.ID)

	cached, err := f.cache.GetCart(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, added.ID, cached.ID)
	assert.Equal(t, 1, cached.Items[0].Quantity)

	cart, err = f.carts.GetCurrentCart(ctx, guest)
	require.NoError(t, err)
	require.NotNil(t, cart)
	assert.Equal(t, added.TotalPrice, cart.TotalPrice)

	_, err = f.carts.AddItem(ctx, guest, product.ID)
	require.NoError(t, err)
	cached, err = f.cache.GetCart(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 2, cached.Items[0].Quantity)

	_, err = f.carts.RemoveItem(ctx, guest, product.ID)
	require.NoError(t, err)
	cached, err = f.cache.GetCart(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 1, cached.Items[0].Quantity)
}

// pausingCarts holds session cart reads after loading until resume is closed
type pausingCarts struct {
	*memstore.Store
	loaded chan struct{}
	resume chan struct{}
}

func (p *pausingCarts) GetCartBySessionID(ctx context.Context, sessionCartID string) (*models.Cart, error) {
	cart, err := p.Store.GetCartBySessionID(ctx, sessionCartID)
	close(p.loaded)
	<-p.resume
	return cart, err
}

func TestCartService_SlowReadDoesNotOverwriteNewerCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.product(t, "lamp", "40.00", 5)
	guest := models.Identity{SessionCartID: "guest-1"}
	key := CartKey(guest)

	_, err := f.carts.AddItem(ctx, guest, product.ID)
	require.NoError(t, err)
	require.NoError(t, f.cache.InvalidateCart(ctx, key))

	engine, err := pricing.NewEngine("1000", "100", "0.18")
	require.NoError(t, err)
	slow := &pausingCarts{Store: f.store, loaded: make(chan struct{}), resume: make(chan struct{})}
	reader := NewCartService(slow, engine, f.cache)

	served := make(chan *models.Cart, 1)
	go func() {
		cart, err := reader.GetCurrentCart(ctx, guest)
		assert.NoError(t, err)
		served <- cart
	}()

	<-slow.loaded
	updated, err := f.carts.AddItem(ctx, guest, product.ID)
	require.NoError(t, err)
	close(slow.resume)

	stale := <-served
	require.NotNil(t, stale)
	assert.Equal(t, 1, stale.Items[0].Quantity)

	cart, err := f.carts.GetCurrentCart(ctx, guest)
	require.NoError(t, err)
	require.NotNil(t, cart)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.Equal(t, updated.TotalPrice, cart.TotalPrice)
}

func TestCartService_GetCurrentCartPrefersUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.product(t, "chair", "80.00", 3)
	user := f.customer(t, "jane@example.com")

	_, err := f.carts.AddItem(ctx, models.Identity{SessionCartID: user.SessionCartID}, product.ID)
	require.NoError(t, err)

	// the session cart is not visible to the signed-in user until sign-in merges it
	cart, err := f.carts.GetCurrentCart(ctx, user)
	require.NoError(t, err)
	assert.Nil(t, cart)
}

func TestCartService_MergeCartOnSignInReplacesUserCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.product(t, "desk", "150.00", 5)
	fresh := f.product(t, "shelf", "60.00", 5)
	user := f.customer(t, "jane@example.com")

	_, err := f.carts.AddItem(ctx, user, old.ID)
	require.NoError(t, err)

	guest := models.Identity{SessionCartID: "browser-2"}
	sessionCart, err := f.carts.AddItem(ctx, guest, fresh.ID)
	require.NoError(t, err)

	assigned, err := f.carts.MergeCartOnSignIn(ctx, guest.SessionCartID, user.UserID)
	require.NoError(t, err)
	assert.True(t, assigned)

	cart, err := f.carts.GetCurrentCart(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, cart)
	assert.Equal(t, sessionCart.ID, cart.ID)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, fresh.ID, cart.Items[0].ProductID)
	assert.Equal(t, models.OwnerUser, cart.OwnerKind())

	assert.Contains(t, f.cache.invalidated, CartKey(guest))
	assert.Contains(t, f.cache.invalidated, CartKey(models.Identity{UserID: user.UserID}))
}

func TestCartService_MergeCartOnSignInWithoutSessionCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.product(t, "desk", "150.00", 5)
	user := f.customer(t, "jane@example.com")

	existing, err := f.carts.AddItem(ctx, user, product.ID)
	require.NoError(t, err)

	assigned, err := f.carts.MergeCartOnSignIn(ctx, "never-used", user.UserID)
	require.NoError(t, err)
	assert.False(t, assigned)

	cart, err := f.carts.GetCurrentCart(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, cart)
	assert.Equal(t, existing.ID, cart.ID)

	_, err = f.carts.MergeCartOnSignIn(ctx, "", user.UserID)
	assert.ErrorIs(t, err, models.ErrValidation)
}

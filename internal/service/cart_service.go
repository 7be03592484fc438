package service

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/pricing"
	"storefront/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CartService owns the cart aggregate: line items, stock checks and totals
type CartService struct {
	carts   CartStore
	pricing *pricing.Engine
	cache   CartCache
	group   singleflight.Group
	logger  *zap.Logger
}

// NewCartService creates a new cart service. cache may be nil.
func NewCartService(carts CartStore, engine *pricing.Engine, cache CartCache) *CartService {
	return &CartService{
		carts:   carts,
		pricing: engine,
		cache:   cache,
		logger:  util.GetLogger(),
	}
}

// AddItemRequest represents a request to add one unit of a product
type AddItemRequest struct {
	ProductID string `json:"productId" binding:"required,uuid"`
}

// CartKey is the cache key for the caller's cart, or "" when there is no identity
func CartKey(id models.Identity) string {
	if id.Authenticated() {
		return "cart:user:" + id.UserID
	}
	if id.SessionCartID != "" {
		return "cart:session:" + id.SessionCartID
	}
	return ""
}

// AddItem adds one unit of productID to the caller's cart, creating the cart on first use
func (s *CartService) AddItem(ctx context.Context, id models.Identity, productID string) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if id.SessionCartID == "" {
		util.CartMutationsTotal.WithLabelValues("add", "no_session").Inc()
		return nil, models.ErrNoCartSession
	}

	cart, err := s.carts.MutateCart(ctx, id, productID, true, func(cart *models.Cart, product *models.Product) error {
		if idx := cart.Items.Find(product.ID); idx >= 0 {
			if cart.Items[idx].Quantity+1 > product.Stock {
				return fmt.Errorf("%w: %s", models.ErrInsufficientStock, product.Name)
			}
			cart.Items[idx].Quantity++
		} else {
			if product.Stock < 1 {
				return fmt.Errorf("%w: %s", models.ErrInsufficientStock, product.Name)
			}
			cart.Items = append(cart.Items, models.CartItem{
				ProductID: product.ID,
				Name:      product.Name,
				Slug:      product.Slug,
				Image:     product.Image,
				Price:     product.Price,
				Quantity:  1,
			})
		}
		return s.reprice(cart)
	})
	if err != nil {
		util.CartMutationsTotal.WithLabelValues("add", mutationFailure(err)).Inc()
		return nil, err
	}

	util.CartMutationsTotal.WithLabelValues("add", "ok").Inc()
	s.logger.Info("Item added to cart",
		zap.String("cart_id", cart.ID),
		zap.String("product_id", productID),
		zap.String("owner", cart.OwnerKind()))

	s.storeCommitted(ctx, id, cart, productID)
	return cart, nil
}

// RemoveItem takes one unit of productID out of the caller's cart, dropping the line at zero
func (s *CartService) RemoveItem(ctx context.Context, id models.Identity, productID string) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	if CartKey(id) == "" {
		util.CartMutationsTotal.WithLabelValues("remove", "not_found").Inc()
		return nil, fmt.Errorf("%w: cart", models.ErrNotFound)
	}

	cart, err := s.carts.MutateCart(ctx, id, "", false, func(cart *models.Cart, _ *models.Product) error {
		idx := cart.Items.Find(productID)
		if idx < 0 {
			return fmt.Errorf("%w: item %s", models.ErrNotFound, productID)
		}
		if cart.Items[idx].Quantity == 1 {
			cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		} else {
			cart.Items[idx].Quantity--
		}
		return s.reprice(cart)
	})
	if err != nil {
		util.CartMutationsTotal.WithLabelValues("remove", mutationFailure(err)).Inc()
		return nil, err
	}

	util.CartMutationsTotal.WithLabelValues("remove", "ok").Inc()
	s.storeCommitted(ctx, id, cart, productID)
	return cart, nil
}

// GetCurrentCart resolves the caller's cart by user id when signed in, else by
// session. Returns nil, nil when there is none. A miss fills the cache only if
// no mutation has written the key meanwhile.
func (s *CartService) GetCurrentCart(ctx context.Context, id models.Identity) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCurrentCart")
	defer span.End()

	key := CartKey(id)
	if key == "" {
		return nil, nil
	}

	if s.cache != nil {
		cached, err := s.cache.GetCart(ctx, key)
		if err != nil {
			s.logger.Warn("Cart cache read failed", zap.String("key", key), zap.Error(err))
		}
		if cached != nil {
			util.CartCacheLookupsTotal.WithLabelValues("hit").Inc()
			return cached, nil
		}
		util.CartCacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		var (
			cart *models.Cart
			err  error
		)
		if id.Authenticated() {
			cart, err = s.carts.GetCartByUserID(ctx, id.UserID)
		} else {
			cart, err = s.carts.GetCartBySessionID(ctx, id.SessionCartID)
		}
		if errors.Is(err, models.ErrNotFound) {
			return (*models.Cart)(nil), nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load cart: %w", err)
		}

		if s.cache != nil {
			if _, err := s.cache.FillCart(ctx, key, cart); err != nil {
				s.logger.Warn("Cart cache fill failed", zap.String("key", key), zap.Error(err))
			}
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Cart), nil
}

// MergeCartOnSignIn runs when an anonymous session signs in. The session cart,
// if there is one, replaces whatever cart the user had before: lines are never
// merged and the user's previous cart is deleted.
func (s *CartService) MergeCartOnSignIn(ctx context.Context, sessionCartID, userID string) (bool, error) {
	ctx, span := util.StartSpan(ctx, "CartService.MergeCartOnSignIn")
	defer span.End()

	if sessionCartID == "" || userID == "" {
		return false, fmt.Errorf("%w: session cart id and user id are required", models.ErrValidation)
	}

	assigned, err := s.carts.AssignCartToUser(ctx, sessionCartID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to assign cart: %w", err)
	}

	if assigned {
		util.CartMergesTotal.Inc()
		s.logger.Info("Session cart assigned to user",
			zap.String("session_cart_id", sessionCartID),
			zap.String("user_id", userID))
	}

	if s.cache != nil {
		keys := []string{
			CartKey(models.Identity{SessionCartID: sessionCartID}),
			CartKey(models.Identity{UserID: userID}),
		}
		if err := s.cache.InvalidateCart(ctx, keys...); err != nil {
			s.logger.Warn("Cart cache invalidation failed", zap.Error(err))
		}
		if assigned {
			if cart, err := s.carts.GetCartByUserID(ctx, userID); err == nil {
				s.writeCart(ctx, keys[1], cart)
			}
		}
	}
	return assigned, nil
}

func (s *CartService) reprice(cart *models.Cart) error {
	totals, err := s.pricing.Calculate(cart.Items)
	if err != nil {
		return fmt.Errorf("failed to price cart: %w", err)
	}
	cart.SetTotals(totals)
	return nil
}

// storeCommitted replaces the cached cart with the one just committed
func (s *CartService) storeCommitted(ctx context.Context, id models.Identity, cart *models.Cart, productID string) {
	if s.cache == nil {
		return
	}
	s.writeCart(ctx, CartKey(id), cart)
	if err := s.cache.InvalidateProduct(ctx, productID); err != nil {
		s.logger.Warn("Product cache invalidation failed", zap.String("product_id", productID), zap.Error(err))
	}
}

// writeCart overwrites key with cart, dropping the key if the write fails
func (s *CartService) writeCart(ctx context.Context, key string, cart *models.Cart) {
	err := s.cache.SetCart(ctx, key, cart)
	if err == nil {
		return
	}
	s.logger.Warn("Cart cache write failed", zap.String("key", key), zap.Error(err))
	if err := s.cache.InvalidateCart(ctx, key); err != nil {
		s.logger.Warn("Cart cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}

func mutationFailure(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrNoCartSession):
		return "no_session"
	default:
		return "error"
	}
}

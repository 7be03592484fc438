package memstore

import (
	"context"
	"fmt"

	"storefront/internal/models"

	"github.com/google/uuid"
)

func (s *Store) GetCartByUserID(_ context.Context, userID string) (*models.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findCart(models.Identity{UserID: userID})
}

func (s *Store) GetCartBySessionID(_ context.Context, sessionCartID string) (*models.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findCart(models.Identity{SessionCartID: sessionCartID})
}

// MutateCart applies fn to a copy of the owner's cart and keeps it only if fn succeeds
func (s *Store) MutateCart(_ context.Context, owner models.Identity, productID string, create bool, fn func(cart *models.Cart, product *models.Product) error) (*models.Cart, error) {
	if !owner.Authenticated() && owner.SessionCartID == "" {
		return nil, models.ErrNoCartSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart, err := s.findCart(owner)
	if err != nil {
		if !create {
			return nil, err
		}
		cart = &models.Cart{
			ID:            uuid.New().String(),
			SessionCartID: owner.SessionCartID,
			Items:         models.CartItems{},
			CreatedAt:     s.now(),
		}
		if owner.Authenticated() {
			userID := owner.UserID
			cart.UserID = &userID
		}
		cart.SetTotals(models.ZeroTotals)
	}

	var product *models.Product
	if productID != "" {
		p, ok := s.products[productID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", models.ErrNotFound, productID)
		}
		product = &p
	}

	if err := fn(cart, product); err != nil {
		return nil, err
	}

	cart.UpdatedAt = s.now()
	s.carts[cart.ID] = *cloneCart(*cart)
	return cart, nil
}

// AssignCartToUser gives the session cart to userID and drops the user's old cart
func (s *Store) AssignCartToUser(_ context.Context, sessionCartID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionCart, err := s.findCart(models.Identity{SessionCartID: sessionCartID})
	if err != nil {
		return false, nil
	}

	for id, cart := range s.carts {
		if cart.UserID != nil && *cart.UserID == userID {
			delete(s.carts, id)
		}
	}

	sessionCart.UserID = &userID
	sessionCart.UpdatedAt = s.now()
	s.carts[sessionCart.ID] = *sessionCart
	return true, nil
}

// findCart resolves the owner's cart. Session lookups only match carts no user owns.
func (s *Store) findCart(owner models.Identity) (*models.Cart, error) {
	var found *models.Cart
	for _, cart := range s.carts {
		cart := cart
		if owner.Authenticated() {
			if cart.UserID != nil && *cart.UserID == owner.UserID {
				return cloneCart(cart), nil
			}
			continue
		}
		if cart.UserID == nil && cart.SessionCartID == owner.SessionCartID {
			if found == nil || cart.CreatedAt.After(found.CreatedAt) {
				found = &cart
			}
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: cart", models.ErrNotFound)
	}
	return cloneCart(*found), nil
}

func cloneCart(c models.Cart) *models.Cart {
	c.Items = append(models.CartItems{}, c.Items...)
	if c.UserID != nil {
		userID := *c.UserID
		c.UserID = &userID
	}
	return &c
}

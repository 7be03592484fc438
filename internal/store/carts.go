package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const cartColumns = `id, session_cart_id, user_id, items, items_price, shipping_price,
	tax_price, total_price, created_at, updated_at`

// GetCartByUserID retrieves the cart owned by a signed-in user
func (s *Store) GetCartByUserID(ctx context.Context, userID string) (*models.Cart, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("%w: cart for user %s", models.ErrNotFound, userID)
	}
	return getCart(ctx, s.db,
		"SELECT "+cartColumns+" FROM carts WHERE user_id = $1", userID)
}

// GetCartBySessionID retrieves the anonymous cart for a session cookie
func (s *Store) GetCartBySessionID(ctx context.Context, sessionCartID string) (*models.Cart, error) {
	return getCart(ctx, s.db,
		"SELECT "+cartColumns+` FROM carts
		WHERE session_cart_id = $1 AND user_id IS NULL
		ORDER BY created_at DESC LIMIT 1`, sessionCartID)
}

// MutateCart locks the owner's cart row, applies fn and writes the result back
func (s *Store) MutateCart(ctx context.Context, owner models.Identity, productID string, create bool, fn func(cart *models.Cart, product *models.Product) error) (*models.Cart, error) {
	if !owner.Authenticated() && owner.SessionCartID == "" {
		return nil, models.ErrNoCartSession
	}
	if owner.Authenticated() {
		if err := checkUserID(owner.UserID); err != nil {
			return nil, err
		}
	}

	var saved *models.Cart
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		cart, err := lockCart(ctx, tx, owner)
		isNew := false
		if errors.Is(err, models.ErrNotFound) && create {
			cart = newCart(owner)
			isNew = true
		} else if err != nil {
			return err
		}

		var product *models.Product
		if productID != "" {
			if product, err = getProduct(ctx, tx, productID); err != nil {
				return err
			}
		}

		if err := fn(cart, product); err != nil {
			return err
		}

		if isNew {
			err = insertCart(ctx, tx, cart)
		} else {
			err = updateCart(ctx, tx, cart)
		}
		if err != nil {
			return err
		}
		saved = cart
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// AssignCartToUser moves the session cart to userID. The user's previous cart,
// if any, is deleted rather than merged.
func (s *Store) AssignCartToUser(ctx context.Context, sessionCartID, userID string) (bool, error) {
	if err := checkUserID(userID); err != nil {
		return false, err
	}

	assigned := false
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var cartID string
		err := tx.GetContext(ctx, &cartID, `
			SELECT id FROM carts
			WHERE session_cart_id = $1 AND user_id IS NULL
			ORDER BY created_at DESC LIMIT 1
			FOR UPDATE`, sessionCartID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock session cart: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM carts WHERE user_id = $1", userID); err != nil {
			return fmt.Errorf("failed to delete previous user cart: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE carts SET user_id = $1, updated_at = NOW() WHERE id = $2", userID, cartID); err != nil {
			return fmt.Errorf("failed to assign cart: %w", err)
		}
		assigned = true
		return nil
	})
	return assigned, err
}

// checkUserID rejects gateway user ids that cannot name a users row
func checkUserID(userID string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("%w: malformed user id %q", models.ErrUnauthorized, userID)
	}
	return nil
}

func getCart(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*models.Cart, error) {
	var cart models.Cart
	err := sqlx.GetContext(ctx, q, &cart, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: cart", models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func lockCart(ctx context.Context, tx *sqlx.Tx, owner models.Identity) (*models.Cart, error) {
	if owner.Authenticated() {
		return getCart(ctx, tx,
			"SELECT "+cartColumns+" FROM carts WHERE user_id = $1 FOR UPDATE", owner.UserID)
	}
	return getCart(ctx, tx,
		"SELECT "+cartColumns+` FROM carts
		WHERE session_cart_id = $1 AND user_id IS NULL
		ORDER BY created_at DESC LIMIT 1
		FOR UPDATE`, owner.SessionCartID)
}

func newCart(owner models.Identity) *models.Cart {
	cart := &models.Cart{
		ID:            uuid.New().String(),
		SessionCartID: owner.SessionCartID,
		Items:         models.CartItems{},
	}
	if owner.Authenticated() {
		userID := owner.UserID
		cart.UserID = &userID
	}
	cart.SetTotals(models.ZeroTotals)
	return cart
}

func insertCart(ctx context.Context, tx *sqlx.Tx, cart *models.Cart) error {
	query := `
		INSERT INTO carts (id, session_cart_id, user_id, items, items_price, shipping_price, tax_price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := tx.QueryRowxContext(ctx, query,
		cart.ID, cart.SessionCartID, cart.UserID, cart.Items,
		cart.ItemsPrice, cart.ShippingPrice, cart.TaxPrice, cart.TotalPrice,
	).Scan(&cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create cart: %w", err)
	}
	return nil
}

func updateCart(ctx context.Context, tx *sqlx.Tx, cart *models.Cart) error {
	query := `
		UPDATE carts
		SET items = $1, items_price = $2, shipping_price = $3, tax_price = $4, total_price = $5,
			updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at`

	err := tx.QueryRowxContext(ctx, query,
		cart.Items, cart.ItemsPrice, cart.ShippingPrice, cart.TaxPrice, cart.TotalPrice, cart.ID,
	).Scan(&cart.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update cart: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, user_id, shipping_address, payment_method, items_price, shipping_price,
	tax_price, total_price, is_paid, paid_at, is_delivered, delivered_at, payment_result, created_at`

const orderItemColumns = `id, order_id, product_id, name, slug, image, price, quantity`

// CreateOrderFromCart turns the cart into an order and clears it, all in one transaction
func (s *Store) CreateOrderFromCart(ctx context.Context, cartID string, draft models.OrderDraft) (*models.Order, error) {
	var order *models.Order
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		cart, err := getCart(ctx, tx,
			"SELECT "+cartColumns+" FROM carts WHERE id = $1 FOR UPDATE", cartID)
		if err != nil {
			return err
		}
		if len(cart.Items) == 0 {
			return models.ErrEmptyCart
		}

		order = &models.Order{
			ID:              uuid.New().String(),
			UserID:          draft.UserID,
			ShippingAddress: draft.ShippingAddress,
			PaymentMethod:   draft.PaymentMethod,
			ItemsPrice:      cart.ItemsPrice,
			ShippingPrice:   cart.ShippingPrice,
			TaxPrice:        cart.TaxPrice,
			TotalPrice:      cart.TotalPrice,
		}

		query := `
			INSERT INTO orders (id, user_id, shipping_address, payment_method,
				items_price, shipping_price, tax_price, total_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at`

		if err := tx.GetContext(ctx, &order.CreatedAt, query,
			order.ID, order.UserID, order.ShippingAddress, order.PaymentMethod,
			order.ItemsPrice, order.ShippingPrice, order.TaxPrice, order.TotalPrice); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		for i, line := range cart.Items {
			item := models.OrderItem{
				ID:        uuid.New().String(),
				OrderID:   order.ID,
				ProductID: line.ProductID,
				Name:      line.Name,
				Slug:      line.Slug,
				Image:     line.Image,
				Price:     line.Price,
				Quantity:  line.Quantity,
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, product_id, name, slug, image, price, quantity, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				item.ID, item.OrderID, item.ProductID, item.Name, item.Slug, item.Image,
				item.Price, item.Quantity, i)
			if err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
			order.OrderItems = append(order.OrderItems, item)
		}

		cart.Items = models.CartItems{}
		cart.SetTotals(models.ZeroTotals)
		return updateCart(ctx, tx, cart)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrderByID retrieves an order with its items
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	return getOrder(ctx, s.db, id)
}

func getOrder(ctx context.Context, q sqlx.QueryerContext, id string) (*models.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: order %s", models.ErrNotFound, id)
	}

	var order models.Order
	err := sqlx.GetContext(ctx, q, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	items, err := getOrderItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	order.OrderItems = items
	return &order, nil
}

func getOrderItems(ctx context.Context, q sqlx.QueryerContext, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := sqlx.SelectContext(ctx, q, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = $1 ORDER BY position", orderID)
	return items, err
}

// ListOrdersByUserID returns one page of a user's orders, newest first, and the total count
func (s *Store) ListOrdersByUserID(ctx context.Context, userID string, limit, offset int) ([]models.Order, int, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return []models.Order{}, 0, nil
	}

	var total int
	if err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM orders WHERE user_id = $1", userID); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}

// SetPaymentResult stores a payment result on an order that is still unpaid
func (s *Store) SetPaymentResult(ctx context.Context, orderID string, result *models.PaymentResult) error {
	if _, err := uuid.Parse(orderID); err != nil {
		return fmt.Errorf("%w: order %s", models.ErrNotFound, orderID)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_result = $1 WHERE id = $2 AND is_paid = FALSE", result, orderID)
	if err != nil {
		return fmt.Errorf("failed to set payment result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return paidNoop(ctx, s.db, orderID)
}

// MarkOrderPaid is the pay transition. The conditional update on is_paid admits
// exactly one writer; that writer then applies the stock decrements.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID string, result *models.PaymentResult, paidAt time.Time) (*models.Order, []models.StockLevel, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, nil, fmt.Errorf("%w: order %s", models.ErrNotFound, orderID)
	}

	var (
		order  *models.Order
		levels []models.StockLevel
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET is_paid = TRUE, paid_at = $1, payment_result = COALESCE($2::jsonb, payment_result)
			WHERE id = $3 AND is_paid = FALSE`,
			paidAt, result, orderID)
		if err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return paidNoop(ctx, tx, orderID)
		}

		if levels, err = decrementStock(ctx, tx, orderID); err != nil {
			return err
		}

		order, err = getOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return order, levels, nil
}

// decrementStock takes the ordered quantities off stock. Product rows are locked
// in id order, whatever order the lines were added in, so two settlements
// sharing products always wait on each other in the same sequence.
func decrementStock(ctx context.Context, tx *sqlx.Tx, orderID string) ([]models.StockLevel, error) {
	var locked []string
	err := tx.SelectContext(ctx, &locked, `
		SELECT p.id FROM products p
		JOIN order_items oi ON oi.product_id = p.id
		WHERE oi.order_id = $1
		ORDER BY p.id
		FOR UPDATE OF p`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock products: %w", err)
	}

	levels := []models.StockLevel{}
	err = tx.SelectContext(ctx, &levels, `
		UPDATE products p SET stock = p.stock - oi.quantity
		FROM order_items oi
		WHERE oi.order_id = $1 AND p.id = oi.product_id
		RETURNING p.id, p.stock`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrement stock: %w", err)
	}
	return levels, nil
}

// MarkOrderDelivered sets the delivery flag on a paid order
func (s *Store) MarkOrderDelivered(ctx context.Context, orderID string, deliveredAt time.Time) (*models.Order, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, fmt.Errorf("%w: order %s", models.ErrNotFound, orderID)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET is_delivered = TRUE, delivered_at = $1
		WHERE id = $2 AND is_paid = TRUE AND is_delivered = FALSE`,
		deliveredAt, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark order delivered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, explainNoop(ctx, s.db, orderID)
	}
	return getOrder(ctx, s.db, orderID)
}

// explainNoop tells why a guarded order update matched no row
func explainNoop(ctx context.Context, q sqlx.QueryerContext, orderID string) error {
	var flags struct {
		IsPaid      bool `db:"is_paid"`
		IsDelivered bool `db:"is_delivered"`
	}
	err := sqlx.GetContext(ctx, q, &flags,
		"SELECT is_paid, is_delivered FROM orders WHERE id = $1", orderID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: order %s", models.ErrNotFound, orderID)
	case err != nil:
		return err
	case !flags.IsPaid:
		return models.ErrNotPaid
	case flags.IsDelivered:
		return models.ErrAlreadyDelivered
	default:
		return models.ErrAlreadyPaid
	}
}

// paidNoop is explainNoop for the payment updates, where a delivered order is simply paid
func paidNoop(ctx context.Context, q sqlx.QueryerContext, orderID string) error {
	err := explainNoop(ctx, q, orderID)
	if errors.Is(err, models.ErrAlreadyDelivered) {
		return models.ErrAlreadyPaid
	}
	return err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

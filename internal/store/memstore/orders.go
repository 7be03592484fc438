package memstore

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/google/uuid"
)

func (s *Store) CreateOrderFromCart(_ context.Context, cartID string, draft models.OrderDraft) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[cartID]
	if !ok {
		return nil, fmt.Errorf("%w: cart %s", models.ErrNotFound, cartID)
	}
	if len(cart.Items) == 0 {
		return nil, models.ErrEmptyCart
	}

	order := models.Order{
		ID:              uuid.New().String(),
		UserID:          draft.UserID,
		ShippingAddress: draft.ShippingAddress,
		PaymentMethod:   draft.PaymentMethod,
		ItemsPrice:      cart.ItemsPrice,
		ShippingPrice:   cart.ShippingPrice,
		TaxPrice:        cart.TaxPrice,
		TotalPrice:      cart.TotalPrice,
		CreatedAt:       s.now(),
	}
	for _, line := range cart.Items {
		order.OrderItems = append(order.OrderItems, models.OrderItem{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			ProductID: line.ProductID,
			Name:      line.Name,
			Slug:      line.Slug,
			Image:     line.Image,
			Price:     line.Price,
			Quantity:  line.Quantity,
		})
	}

	s.orders[order.ID] = order
	s.orderLog = append(s.orderLog, order.ID)

	cart.Items = models.CartItems{}
	cart.SetTotals(models.ZeroTotals)
	cart.UpdatedAt = s.now()
	s.carts[cartID] = cart

	return cloneOrder(order), nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", models.ErrNotFound, id)
	}
	return cloneOrder(order), nil
}

// ListOrdersByUserID pages through a user's orders, newest first
func (s *Store) ListOrdersByUserID(_ context.Context, userID string, limit, offset int) ([]models.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mine []models.Order
	for i := len(s.orderLog) - 1; i >= 0; i-- {
		order := s.orders[s.orderLog[i]]
		if order.UserID == userID {
			mine = append(mine, order)
		}
	}

	page := []models.Order{}
	for i := offset; i < len(mine) && len(page) < limit; i++ {
		order := cloneOrder(mine[i])
		order.OrderItems = nil
		page = append(page, *order)
	}
	return page, len(mine), nil
}

func (s *Store) SetPaymentResult(_ context.Context, orderID string, result *models.PaymentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: order %s", models.ErrNotFound, orderID)
	}
	if order.IsPaid {
		return models.ErrAlreadyPaid
	}
	order.PaymentResult = clonePaymentResult(result)
	s.orders[orderID] = order
	return nil
}

// MarkOrderPaid flips the paid flag and decrements stock under one lock
func (s *Store) MarkOrderPaid(_ context.Context, orderID string, result *models.PaymentResult, paidAt time.Time) (*models.Order, []models.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: order %s", models.ErrNotFound, orderID)
	}
	if order.IsPaid {
		return nil, nil, models.ErrAlreadyPaid
	}

	for _, item := range order.OrderItems {
		if _, ok := s.products[item.ProductID]; !ok {
			return nil, nil, fmt.Errorf("failed to decrement stock for product %s: %w", item.ProductID, models.ErrNotFound)
		}
	}

	levels := make([]models.StockLevel, 0, len(order.OrderItems))
	for _, item := range order.OrderItems {
		product := s.products[item.ProductID]
		product.Stock -= item.Quantity
		s.products[item.ProductID] = product
		levels = append(levels, models.StockLevel{ProductID: product.ID, Stock: product.Stock})
	}

	order.IsPaid = true
	order.PaidAt = &paidAt
	if result != nil {
		order.PaymentResult = clonePaymentResult(result)
	}
	s.orders[orderID] = order
	return cloneOrder(order), levels, nil
}

func (s *Store) MarkOrderDelivered(_ context.Context, orderID string, deliveredAt time.Time) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: order %s", models.ErrNotFound, orderID)
	case !order.IsPaid:
		return nil, models.ErrNotPaid
	case order.IsDelivered:
		return nil, models.ErrAlreadyDelivered
	}

	order.IsDelivered = true
	order.DeliveredAt = &deliveredAt
	s.orders[orderID] = order
	return cloneOrder(order), nil
}

func (s *Store) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *Store) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		s.events[eventID] = models.ProcessedEvent{EventID: eventID, EventType: eventType, ProcessedAt: s.now()}
	}
	return nil
}

func cloneOrder(o models.Order) *models.Order {
	o.OrderItems = append([]models.OrderItem(nil), o.OrderItems...)
	if o.PaidAt != nil {
		paidAt := *o.PaidAt
		o.PaidAt = &paidAt
	}
	if o.DeliveredAt != nil {
		deliveredAt := *o.DeliveredAt
		o.DeliveredAt = &deliveredAt
	}
	o.PaymentResult = clonePaymentResult(o.PaymentResult)
	return &o
}

func clonePaymentResult(p *models.PaymentResult) *models.PaymentResult {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Capture != nil {
		capture := *p.Capture
		clone.Capture = &capture
	}
	if p.Charge != nil {
		charge := *p.Charge
		clone.Charge = &charge
	}
	return &clone
}

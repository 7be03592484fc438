package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Product represents a product in the catalog
type Product struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Slug      string    `db:"slug" json:"slug"`
	Image     string    `db:"image" json:"image"`
	Price     string    `db:"price" json:"price"`
	Stock     int       `db:"stock" json:"stock"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// User is the profile subset the checkout needs
type User struct {
	ID            string           `db:"id" json:"id"`
	Name          string           `db:"name" json:"name"`
	Email         string           `db:"email" json:"email"`
	Role          string           `db:"role" json:"role"`
	Address       *ShippingAddress `db:"address" json:"address,omitempty"`
	PaymentMethod *string          `db:"payment_method" json:"payment_method,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
}

// User roles
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Payment methods
const (
	PaymentMethodPayPal         = "PayPal"
	PaymentMethodStripe         = "Stripe"
	PaymentMethodCashOnDelivery = "CashOnDelivery"
)

// ShippingAddress is stored as JSONB on users and orders
type ShippingAddress struct {
	FullName      string   `json:"fullName" binding:"required,min=3"`
	StreetAddress string   `json:"streetAddress" binding:"required,min=3"`
	City          string   `json:"city" binding:"required,min=3"`
	PostalCode    string   `json:"postalCode" binding:"required,min=3"`
	Country       string   `json:"country" binding:"required,min=3"`
	Lat           *float64 `json:"lat,omitempty"`
	Lng           *float64 `json:"lng,omitempty"`
}

func (a ShippingAddress) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *ShippingAddress) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// CartItem is a line item; product fields are snapshotted when the item is added
type CartItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	Image     string `json:"image"`
	Price     string `json:"price"`
	Quantity  int    `json:"quantity"`
}

// CartItems is stored as a JSONB array on the carts row
type CartItems []CartItem

func (items CartItems) Value() (driver.Value, error) {
	if items == nil {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (items *CartItems) Scan(src interface{}) error {
	return scanJSON(src, items)
}

// Find returns the index of the line for productID, or -1
func (items CartItems) Find(productID string) int {
	for i := range items {
		if items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Cart is owned by an anonymous session or, once set, by a user
type Cart struct {
	ID            string    `db:"id" json:"id"`
	SessionCartID string    `db:"session_cart_id" json:"session_cart_id"`
	UserID        *string   `db:"user_id" json:"user_id,omitempty"`
	Items         CartItems `db:"items" json:"items"`
	ItemsPrice    string    `db:"items_price" json:"items_price"`
	ShippingPrice string    `db:"shipping_price" json:"shipping_price"`
	TaxPrice      string    `db:"tax_price" json:"tax_price"`
	TotalPrice    string    `db:"total_price" json:"total_price"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Cart owner kinds
const (
	OwnerSession = "session"
	OwnerUser    = "user"
)

// OwnerKind reports whether the cart belongs to a user or a session
func (c *Cart) OwnerKind() string {
	if c.UserID != nil && *c.UserID != "" {
		return OwnerUser
	}
	return OwnerSession
}

// SetTotals copies computed totals onto the cart
func (c *Cart) SetTotals(t Totals) {
	c.ItemsPrice = t.ItemsPrice
	c.ShippingPrice = t.ShippingPrice
	c.TaxPrice = t.TaxPrice
	c.TotalPrice = t.TotalPrice
}

// Totals is the itemized price breakdown shared by carts and orders
type Totals struct {
	ItemsPrice    string `json:"items_price"`
	ShippingPrice string `json:"shipping_price"`
	TaxPrice      string `json:"tax_price"`
	TotalPrice    string `json:"total_price"`
}

// ZeroTotals is what a cleared cart carries
var ZeroTotals = Totals{
	ItemsPrice:    "0.00",
	ShippingPrice: "0.00",
	TaxPrice:      "0.00",
	TotalPrice:    "0.00",
}

// Identity is the caller as seen by the cart: a session cookie and maybe a user
type Identity struct {
	SessionCartID string
	UserID        string
	Role          string
}

// Authenticated reports whether a user is signed in
func (id Identity) Authenticated() bool {
	return id.UserID != ""
}

// IsAdmin reports whether the caller holds the admin role
func (id Identity) IsAdmin() bool {
	return id.Authenticated() && id.Role == RoleAdmin
}

// Order represents a customer order
type Order struct {
	ID              string          `db:"id" json:"id"`
	UserID          string          `db:"user_id" json:"user_id"`
	ShippingAddress ShippingAddress `db:"shipping_address" json:"shipping_address"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method"`
	ItemsPrice      string          `db:"items_price" json:"items_price"`
	ShippingPrice   string          `db:"shipping_price" json:"shipping_price"`
	TaxPrice        string          `db:"tax_price" json:"tax_price"`
	TotalPrice      string          `db:"total_price" json:"total_price"`
	IsPaid          bool            `db:"is_paid" json:"is_paid"`
	PaidAt          *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	IsDelivered     bool            `db:"is_delivered" json:"is_delivered"`
	DeliveredAt     *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	PaymentResult   *PaymentResult  `db:"payment_result" json:"payment_result,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	OrderItems      []OrderItem     `db:"-" json:"order_items"`
}

// OrderItem represents items in an order
type OrderItem struct {
	ID        string `db:"id" json:"id"`
	OrderID   string `db:"order_id" json:"order_id"`
	ProductID string `db:"product_id" json:"product_id"`
	Name      string `db:"name" json:"name"`
	Slug      string `db:"slug" json:"slug"`
	Image     string `db:"image" json:"image"`
	Price     string `db:"price" json:"price"`
	Quantity  int    `db:"quantity" json:"quantity"`
}

// OrderDraft carries the profile half of a new order; the cart supplies the rest
type OrderDraft struct {
	UserID          string
	ShippingAddress ShippingAddress
	PaymentMethod   string
}

// ProcessedEvent records inbound webhook events already handled
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}

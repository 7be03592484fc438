// Package pricing turns cart line items into the itemized totals stored on carts
// and orders. All amounts are fixed two-decimal strings rounded half up.
package pricing

import (
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for prices or settings that are not numeric
var ErrInvalidAmount = errors.New("value is not a number")

// Engine holds the configured shipping and tax rules
type Engine struct {
	freeShippingThreshold decimal.Decimal
	shippingFee           decimal.Decimal
	taxRate               decimal.Decimal
}

// NewEngine parses the configured threshold, flat fee and tax rate
func NewEngine(freeShippingThreshold, shippingFee, taxRate string) (*Engine, error) {
	threshold, err := parse(freeShippingThreshold)
	if err != nil {
		return nil, fmt.Errorf("free shipping threshold: %w", err)
	}
	fee, err := parse(shippingFee)
	if err != nil {
		return nil, fmt.Errorf("shipping fee: %w", err)
	}
	rate, err := parse(taxRate)
	if err != nil {
		return nil, fmt.Errorf("tax rate: %w", err)
	}

	return &Engine{
		freeShippingThreshold: threshold,
		shippingFee:           fee,
		taxRate:               rate,
	}, nil
}

// Calculate prices the given line items
func (e *Engine) Calculate(items []models.CartItem) (models.Totals, error) {
	itemsPrice := decimal.Zero
	for _, item := range items {
		price, err := parse(item.Price)
		if err != nil {
			return models.Totals{}, fmt.Errorf("price of product %s: %w", item.ProductID, err)
		}
		itemsPrice = itemsPrice.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	itemsPrice = itemsPrice.Round(2)

	shippingPrice := e.shippingFee.Round(2)
	if itemsPrice.GreaterThan(e.freeShippingThreshold) {
		shippingPrice = decimal.Zero
	}

	taxPrice := itemsPrice.Mul(e.taxRate).Round(2)
	totalPrice := itemsPrice.Add(shippingPrice).Add(taxPrice).Round(2)

	return models.Totals{
		ItemsPrice:    itemsPrice.StringFixed(2),
		ShippingPrice: shippingPrice.StringFixed(2),
		TaxPrice:      taxPrice.StringFixed(2),
		TotalPrice:    totalPrice.StringFixed(2),
	}, nil
}

// FormatMinorUnits renders an amount in cents as a two-decimal major-unit string
func FormatMinorUnits(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

func parse(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	return d, nil
}

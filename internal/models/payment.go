package models

import (
	"database/sql/driver"
	"encoding/json"
)

// PaymentKind tags which settlement path produced a PaymentResult
type PaymentKind string

const (
	PaymentKindPayPal PaymentKind = "paypal"
	PaymentKindStripe PaymentKind = "stripe"
	PaymentKindCash   PaymentKind = "cash"
)

// PayPal capture status that counts as settled
const CaptureStatusCompleted = "COMPLETED"

// PaymentResult is attached to an order at the paid transition. Exactly one of
// Capture and Charge is set for the paypal and stripe kinds; cash carries neither.
type PaymentResult struct {
	Kind    PaymentKind      `json:"kind"`
	Capture *ExternalCapture `json:"capture,omitempty"`
	Charge  *WebhookCharge   `json:"charge,omitempty"`
}

// ExternalCapture is the redirect/capture processor record
type ExternalCapture struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	EmailAddress string `json:"email_address"`
	PricePaid    string `json:"price_paid"`
}

// WebhookCharge is the card processor charge record
type WebhookCharge struct {
	ChargeID     string `json:"charge_id"`
	EmailAddress string `json:"email_address"`
	AmountMinor  int64  `json:"amount_minor"`
	PricePaid    string `json:"price_paid"`
}

// PendingCapture marks an order as waiting on the remote PayPal order remoteID
func PendingCapture(remoteID string) *PaymentResult {
	return &PaymentResult{
		Kind:    PaymentKindPayPal,
		Capture: &ExternalCapture{ID: remoteID, PricePaid: "0"},
	}
}

// CompletedCapture is the PayPal record stored on a paid order
func CompletedCapture(id, status, email, pricePaid string) *PaymentResult {
	return &PaymentResult{
		Kind: PaymentKindPayPal,
		Capture: &ExternalCapture{
			ID:           id,
			Status:       status,
			EmailAddress: email,
			PricePaid:    pricePaid,
		},
	}
}

// ChargeSucceeded is the Stripe record stored on a paid order
func ChargeSucceeded(chargeID, email string, amountMinor int64, pricePaid string) *PaymentResult {
	return &PaymentResult{
		Kind: PaymentKindStripe,
		Charge: &WebhookCharge{
			ChargeID:     chargeID,
			EmailAddress: email,
			AmountMinor:  amountMinor,
			PricePaid:    pricePaid,
		},
	}
}

// CashPayment is the record for a manually confirmed cash-on-delivery order
func CashPayment() *PaymentResult {
	return &PaymentResult{Kind: PaymentKindCash}
}

// PendingRemoteID returns the PayPal order id stored by createPaypalOrder
func (p *PaymentResult) PendingRemoteID() string {
	if p == nil || p.Kind != PaymentKindPayPal || p.Capture == nil {
		return ""
	}
	return p.Capture.ID
}

func (p PaymentResult) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *PaymentResult) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// Stripe event types the settlement path reacts to
const EventChargeSucceeded = "charge.succeeded"

// WebhookEvent is a verified card processor event reduced to what settlement reads
type WebhookEvent struct {
	ID          string
	Type        string
	OrderID     string
	ChargeID    string
	Email       string
	AmountMinor int64
}

package models

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
)

// PaymentTypeStripe marks rows that went through a Stripe Checkout Session.
const PaymentTypeStripe = "stripe"

type Payment struct {
	ID                string        `json:"id"`
	CreatorID         string        `json:"creator_id"`
	Amount            int64         `json:"amount"`
	Currency          string        `json:"currency"`
	Status            PaymentStatus `json:"status"`
	ExternalReference *string       `json:"external_reference,omitempty"`
	PaymentType       *string       `json:"payment_type,omitempty"`
	PayerEmail        *string       `json:"payer_email,omitempty"`
	PayerName         *string       `json:"payer_name,omitempty"`
	Description       *string       `json:"description,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func (p *Payment) IsCompleted() bool {
	return p.Status == PaymentStatusCompleted
}

// PublicPayment is the subset of a payment safe to show to anonymous visitors.
type PublicPayment struct {
	ID       string        `json:"id"`
	Status   PaymentStatus `json:"status"`
	Amount   int64         `json:"amount"`
	Currency string        `json:"currency"`
}

func (p *Payment) Public() PublicPayment {
	return PublicPayment{
		ID:       p.ID,
		Status:   p.Status,
		Amount:   p.Amount,
		Currency: p.Currency,
	}
}

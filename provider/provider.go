package provider

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrMissingFields    = errors.New("missing required fields")
	ErrInvalidSignature = errors.New("webhook signature verification failed")
)

const (
	PaymentIntentSucceeded = "succeeded"

	CheckoutPaid              = "paid"
	CheckoutNoPaymentRequired = "no_payment_required"
)

// Webhook event types the service reacts to.
const (
	EventCheckoutSessionCompleted             = "checkout.session.completed"
	EventCheckoutSessionAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventPaymentIntentSucceeded               = "payment_intent.succeeded"
	EventPaymentIntentFailed                  = "payment_intent.payment_failed"
)

// Provider is the subset of the payment processor the handlers depend on.
type Provider interface {
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	VerifyWebhook(payload []byte, signature string) (*Event, error)
	Account(ctx context.Context) (*Account, error)
}

type PaymentIntentRequest struct {
	Amount    int64
	Currency  string
	PaymentID string
}

type CheckoutRequest struct {
	PaymentID   string
	Amount      int64
	Currency    string
	Description string
	Email       string
	Name        string
}

type PaymentIntent struct {
	ID               string
	ClientSecret     string
	Status           string
	Amount           int64
	Currency         string
	Metadata         map[string]string
	LastPaymentError string
}

func (pi *PaymentIntent) Succeeded() bool {
	return pi.Status == PaymentIntentSucceeded
}

type CheckoutSession struct {
	ID                string
	URL               string
	PaymentIntentID   string
	PaymentStatus     string
	ClientReferenceID string
	CustomerEmail     string
	Metadata          map[string]string
}

// PaymentID returns the local payment id the session was created for.
func (s *CheckoutSession) PaymentID() string {
	if id := s.Metadata["payment_id"]; id != "" {
		return id
	}
	return s.ClientReferenceID
}

// Reference returns the identifier stored as the payment's external reference.
func (s *CheckoutSession) Reference() string {
	if s.PaymentIntentID != "" {
		return s.PaymentIntentID
	}
	return s.ID
}

func (s *CheckoutSession) Paid() bool {
	return s.PaymentStatus == CheckoutPaid || s.PaymentStatus == CheckoutNoPaymentRequired
}

type Event struct {
	ID              string
	Type            string
	CheckoutSession *CheckoutSession
	PaymentIntent   *PaymentIntent
}

type Account struct {
	ID             string
	ChargesEnabled bool
}

// ProviderError carries a rejection reported by the payment processor.
type ProviderError struct {
	Status  int
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("provider error (%d): %s", e.Status, e.Message)
}

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
)

const defaultProductName = "Donation"

type StripeConfig struct {
	SecretKey          string
	WebhookSecret      string
	SuccessURL         string
	CancelURL          string
	PaymentMethodTypes []string

	// Backends overrides the stripe-go HTTP backends, mainly for tests.
	Backends *stripe.Backends
}

// Stripe implements Provider on top of the Stripe API.
type Stripe struct {
	api                *client.API
	webhookSecret      string
	successURL         string
	cancelURL          string
	paymentMethodTypes []string
}

func NewStripe(cfg StripeConfig) *Stripe {
	backends := cfg.Backends
	if backends == nil {
		// Failures are surfaced to the caller immediately, never retried.
		api := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			MaxNetworkRetries: stripe.Int64(0),
		})
		backends = &stripe.Backends{
			API:     api,
			Connect: stripe.GetBackend(stripe.ConnectBackend),
			Uploads: stripe.GetBackend(stripe.UploadsBackend),
		}
	}

	methods := cfg.PaymentMethodTypes
	if len(methods) == 0 {
		methods = []string{"card"}
	}

	return &Stripe{
		api:                client.New(cfg.SecretKey, backends),
		webhookSecret:      cfg.WebhookSecret,
		successURL:         cfg.SuccessURL,
		cancelURL:          cfg.CancelURL,
		paymentMethodTypes: methods,
	}
}

func (s *Stripe) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	if req.Amount <= 0 || req.Currency == "" {
		return nil, ErrMissingFields
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice(s.paymentMethodTypes),
	}
	if req.PaymentID != "" {
		params.AddMetadata("payment_id", req.PaymentID)
	}
	params.Context = ctx

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, translateError(err)
	}

	return toPaymentIntent(pi), nil
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PaymentID == "" || req.Amount <= 0 || req.Currency == "" {
		return nil, ErrMissingFields
	}

	name := req.Name
	if name == "" {
		name = defaultProductName
	}
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(name),
	}
	if req.Description != "" {
		product.Description = stripe.String(req.Description)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice(s.paymentMethodTypes),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(strings.ToLower(req.Currency)),
					UnitAmount:  stripe.Int64(req.Amount),
					ProductData: product,
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(expandURL(s.successURL, req.PaymentID)),
		CancelURL:         stripe.String(expandURL(s.cancelURL, req.PaymentID)),
		ClientReferenceID: stripe.String(req.PaymentID),
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.AddMetadata("payment_id", req.PaymentID)
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, translateError(err)
	}

	return toCheckoutSession(sess), nil
}

func (s *Stripe) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	if id == "" {
		return nil, ErrMissingFields
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := s.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, translateError(err)
	}

	return toPaymentIntent(pi), nil
}

// VerifyWebhook checks the Stripe-Signature header against the endpoint secret and
// decodes the event payload.
func (s *Stripe) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	if signature == "" || s.webhookSecret == "" {
		return nil, ErrInvalidSignature
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil {
		return event, nil
	}

	switch {
	case strings.HasPrefix(event.Type, "checkout.session."):
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		event.CheckoutSession = toCheckoutSession(&sess)
	case strings.HasPrefix(event.Type, "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		event.PaymentIntent = toPaymentIntent(&pi)
	}

	return event, nil
}

func (s *Stripe) Account(ctx context.Context) (*Account, error) {
	// account.Client.Get takes no params, so call the backend directly to carry ctx.
	params := &stripe.AccountParams{}
	params.Context = ctx
	acct := &stripe.Account{}
	err := s.api.Accounts.B.Call(http.MethodGet, "/v1/account", s.api.Accounts.Key, params, acct)
	if err != nil {
		return nil, translateError(err)
	}

	return &Account{ID: acct.ID, ChargesEnabled: acct.ChargesEnabled}, nil
}

func toPaymentIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
	if pi.LastPaymentError != nil {
		out.LastPaymentError = pi.LastPaymentError.Msg
	}
	return out
}

func toCheckoutSession(sess *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:                sess.ID,
		URL:               sess.URL,
		PaymentStatus:     string(sess.PaymentStatus),
		ClientReferenceID: sess.ClientReferenceID,
		CustomerEmail:     sess.CustomerEmail,
		Metadata:          sess.Metadata,
	}
	if sess.PaymentIntent != nil {
		out.PaymentIntentID = sess.PaymentIntent.ID
	}
	return out
}

func translateError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &ProviderError{
			Status:  stripeErr.HTTPStatusCode,
			Code:    string(stripeErr.Code),
			Message: stripeErr.Msg,
		}
	}
	return fmt.Errorf("stripe request: %w", err)
}

func expandURL(template, paymentID string) string {
	return strings.ReplaceAll(template, "{PAYMENT_ID}", url.QueryEscape(paymentID))
}

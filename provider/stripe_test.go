package provider

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func newTestStripe(t *testing.T, handler http.HandlerFunc) *Stripe {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})

	return NewStripe(StripeConfig{
		SecretKey:          "sk_test_123",
		WebhookSecret:      testWebhookSecret,
		SuccessURL:         "https://impactmarket.pl/payment/success?payment_id={PAYMENT_ID}&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:          "https://impactmarket.pl/payment/cancel?payment_id={PAYMENT_ID}",
		PaymentMethodTypes: []string{"card", "p24"},
		Backends:           &stripe.Backends{API: backend, Connect: backend, Uploads: backend},
	})
}

func writeStripeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func signedHeader(t *testing.T, payload []byte, secret string) string {
	t.Helper()

	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func TestCreatePaymentIntent(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.NoError(t, r.ParseForm())

		assert.Equal(t, "5000", r.PostForm.Get("amount"))
		assert.Equal(t, "pln", r.PostForm.Get("currency"))
		assert.Equal(t, "card", r.PostForm.Get("payment_method_types[0]"))
		assert.Equal(t, "p24", r.PostForm.Get("payment_method_types[1]"))
		assert.Equal(t, "p1", r.PostForm.Get("metadata[payment_id]"))

		writeStripeJSON(w, http.StatusOK, `{"id":"pi_123","object":"payment_intent","client_secret":"pi_123_secret_abc","status":"requires_payment_method","amount":5000,"currency":"pln"}`)
	})

	pi, err := s.CreatePaymentIntent(context.Background(), PaymentIntentRequest{Amount: 5000, Currency: "PLN", PaymentID: "p1"})

	require.NoError(t, err)
	assert.Equal(t, "pi_123", pi.ID)
	assert.Equal(t, "pi_123_secret_abc", pi.ClientSecret)
	assert.False(t, pi.Succeeded())
}

func TestCreatePaymentIntentMissingFields(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("provider must not be called, got %s %s", r.Method, r.URL.Path)
	})

	_, err := s.CreatePaymentIntent(context.Background(), PaymentIntentRequest{Currency: "PLN"})
	assert.True(t, errors.Is(err, ErrMissingFields))

	_, err = s.CreatePaymentIntent(context.Background(), PaymentIntentRequest{Amount: 100})
	assert.True(t, errors.Is(err, ErrMissingFields))
}

func TestCreatePaymentIntentProviderError(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		writeStripeJSON(w, http.StatusBadRequest, `{"error":{"type":"invalid_request_error","code":"amount_too_small","message":"Amount must be at least 2.00 zł"}}`)
	})

	_, err := s.CreatePaymentIntent(context.Background(), PaymentIntentRequest{Amount: 1, Currency: "pln"})

	var providerErr *ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, http.StatusBadRequest, providerErr.Status)
	assert.Equal(t, "amount_too_small", providerErr.Code)
	assert.Equal(t, "Amount must be at least 2.00 zł", providerErr.Message)
}

func TestCreateCheckoutSession(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())

		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "5000", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "pln", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "Wsparcie twórcy", r.PostForm.Get("line_items[0][price_data][product_data][name]"))
		assert.Equal(t, "1", r.PostForm.Get("line_items[0][quantity]"))
		assert.Equal(t, "a@b.com", r.PostForm.Get("customer_email"))
		assert.Equal(t, "p1", r.PostForm.Get("metadata[payment_id]"))
		assert.Equal(t, "p1", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "https://impactmarket.pl/payment/success?payment_id=p1&session_id={CHECKOUT_SESSION_ID}", r.PostForm.Get("success_url"))
		assert.Equal(t, "https://impactmarket.pl/payment/cancel?payment_id=p1", r.PostForm.Get("cancel_url"))

		writeStripeJSON(w, http.StatusOK, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1","payment_status":"unpaid","client_reference_id":"p1","metadata":{"payment_id":"p1"}}`)
	})

	sess, err := s.CreateCheckoutSession(context.Background(), CheckoutRequest{
		PaymentID: "p1",
		Amount:    5000,
		Currency:  "PLN",
		Email:     "a@b.com",
		Name:      "Wsparcie twórcy",
	})

	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", sess.URL)
	assert.Equal(t, "p1", sess.PaymentID())
	assert.False(t, sess.Paid())
}

func TestCreateCheckoutSessionDefaultsProductName(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "Donation", r.PostForm.Get("line_items[0][price_data][product_data][name]"))
		assert.Empty(t, r.PostForm.Get("customer_email"))

		writeStripeJSON(w, http.StatusOK, `{"id":"cs_test_2","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_2"}`)
	})

	_, err := s.CreateCheckoutSession(context.Background(), CheckoutRequest{PaymentID: "p2", Amount: 1000, Currency: "pln"})
	require.NoError(t, err)
}

func TestCreateCheckoutSessionMissingFields(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("provider must not be called")
	})

	_, err := s.CreateCheckoutSession(context.Background(), CheckoutRequest{Amount: 5000, Currency: "PLN"})
	assert.True(t, errors.Is(err, ErrMissingFields))
}

func TestRetrievePaymentIntent(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payment_intents/pi_123", r.URL.Path)

		writeStripeJSON(w, http.StatusOK, `{"id":"pi_123","object":"payment_intent","status":"succeeded","amount":5000,"currency":"pln","metadata":{"payment_id":"p1"}}`)
	})

	pi, err := s.RetrievePaymentIntent(context.Background(), "pi_123")

	require.NoError(t, err)
	assert.True(t, pi.Succeeded())
	assert.Equal(t, int64(5000), pi.Amount)
	assert.Equal(t, "pln", pi.Currency)
	assert.Equal(t, "p1", pi.Metadata["payment_id"])
}

func TestRetrievePaymentIntentNotFound(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		writeStripeJSON(w, http.StatusNotFound, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such payment_intent: 'pi_missing'"}}`)
	})

	_, err := s.RetrievePaymentIntent(context.Background(), "pi_missing")

	var providerErr *ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, http.StatusNotFound, providerErr.Status)
	assert.Equal(t, "resource_missing", providerErr.Code)
}

func TestAccount(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/account", r.URL.Path)
		writeStripeJSON(w, http.StatusOK, `{"id":"acct_1ImpactMarket","object":"account","charges_enabled":true}`)
	})

	acct, err := s.Account(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "acct_1ImpactMarket", acct.ID)
	assert.True(t, acct.ChargesEnabled)
}

func TestAccountHonorsContext(t *testing.T) {
	calls := 0
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeStripeJSON(w, http.StatusOK, `{"id":"acct_1ImpactMarket","object":"account"}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Account(ctx)

	require.Error(t, err)
	assert.Zero(t, calls)
}

func TestVerifyWebhook(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("webhook verification must not call the API")
	})

	t.Run("checkout session completed", func(t *testing.T) {
		payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","api_version":"2020-08-27","data":{"object":{"id":"cs_1","object":"checkout.session","payment_status":"paid","payment_intent":"pi_1","client_reference_id":"p1","metadata":{"payment_id":"p1"}}}}`)

		event, err := s.VerifyWebhook(payload, signedHeader(t, payload, testWebhookSecret))

		require.NoError(t, err)
		assert.Equal(t, EventCheckoutSessionCompleted, event.Type)
		require.NotNil(t, event.CheckoutSession)
		assert.Equal(t, "p1", event.CheckoutSession.PaymentID())
		assert.Equal(t, "pi_1", event.CheckoutSession.Reference())
		assert.True(t, event.CheckoutSession.Paid())
		assert.Nil(t, event.PaymentIntent)
	})

	t.Run("payment intent failed", func(t *testing.T) {
		payload := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_2","object":"payment_intent","status":"requires_payment_method","last_payment_error":{"message":"Your card was declined."}}}}`)

		event, err := s.VerifyWebhook(payload, signedHeader(t, payload, testWebhookSecret))

		require.NoError(t, err)
		require.NotNil(t, event.PaymentIntent)
		assert.Equal(t, "pi_2", event.PaymentIntent.ID)
		assert.Equal(t, "Your card was declined.", event.PaymentIntent.LastPaymentError)
	})

	t.Run("wrong secret", func(t *testing.T) {
		payload := []byte(`{"id":"evt_3","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)

		_, err := s.VerifyWebhook(payload, signedHeader(t, payload, "whsec_other"))
		assert.True(t, errors.Is(err, ErrInvalidSignature))
	})

	t.Run("tampered payload", func(t *testing.T) {
		payload := []byte(`{"id":"evt_4","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)
		header := signedHeader(t, payload, testWebhookSecret)

		_, err := s.VerifyWebhook([]byte(`{"id":"evt_4","object":"event","type":"checkout.session.completed","data":{"object":{"metadata":{"payment_id":"p9"}}}}`), header)
		assert.True(t, errors.Is(err, ErrInvalidSignature))
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := s.VerifyWebhook([]byte(`{}`), "")
		assert.True(t, errors.Is(err, ErrInvalidSignature))
	})
}

func TestVerifyWebhookWithoutSecret(t *testing.T) {
	s := NewStripe(StripeConfig{SecretKey: "sk_test_123"})
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed"}`)

	_, err := s.VerifyWebhook(payload, signedHeader(t, payload, ""))
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{Status: 402, Code: "card_declined", Message: "Your card was declined."}
	assert.Equal(t, "provider error (402 card_declined): Your card was declined.", err.Error())
}

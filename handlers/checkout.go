package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/impactmarket/server/models"
	"github.com/impactmarket/server/payments"
	"github.com/impactmarket/server/provider"
)

type createCheckoutSessionRequest struct {
	PaymentID   string `json:"paymentId"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Email       string `json:"email"`
	Name        string `json:"name"`
}

type createCheckoutSessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSession starts a hosted checkout for an existing pending payment.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.PaymentID = strings.TrimSpace(req.PaymentID)
	req.Currency = strings.TrimSpace(req.Currency)
	if req.PaymentID == "" || req.Amount <= 0 || req.Currency == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields", "paymentId, amount and currency are required")
		return
	}
	if !validCurrency(req.Currency) {
		writeError(w, http.StatusBadRequest, "Invalid currency", "currency must be a 3-letter code")
		return
	}

	ctx := r.Context()

	payment, err := h.payments.Get(ctx, req.PaymentID)
	if err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Payment not found", "no payment "+req.PaymentID)
			return
		}
		h.databaseFailure(w, "fetch payment", err)
		return
	}
	if payment.Amount != req.Amount || !strings.EqualFold(payment.Currency, req.Currency) {
		writeError(w, http.StatusBadRequest, "Payment mismatch",
			fmt.Sprintf("payment expects %d %s", payment.Amount, payment.Currency))
		return
	}

	sess, err := h.provider.CreateCheckoutSession(ctx, provider.CheckoutRequest{
		PaymentID:   payment.ID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: strings.TrimSpace(req.Description),
		Email:       strings.TrimSpace(req.Email),
		Name:        strings.TrimSpace(req.Name),
	})
	if err != nil {
		h.providerFailure(w, "create checkout session", err)
		return
	}

	// The session already exists, so the caller is still redirected.
	if err := h.payments.SetPaymentType(ctx, payment.ID, models.PaymentTypeStripe); err != nil {
		h.logger.Printf("set payment type for %s: %v", payment.ID, err)
	}

	writeJSON(w, http.StatusOK, createCheckoutSessionResponse{ID: sess.ID, URL: sess.URL})
}

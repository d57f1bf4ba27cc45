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

type createPaymentIntentRequest struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaymentID string `json:"paymentId"`
}

type createPaymentIntentResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}

// CreatePaymentIntent opens a provider payment intent. It never touches the database.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req createPaymentIntentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Currency = strings.TrimSpace(req.Currency)
	if req.Amount <= 0 || req.Currency == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields", "amount and currency are required")
		return
	}
	if !validCurrency(req.Currency) {
		writeError(w, http.StatusBadRequest, "Invalid currency", "currency must be a 3-letter code")
		return
	}

	pi, err := h.provider.CreatePaymentIntent(r.Context(), provider.PaymentIntentRequest{
		Amount:    req.Amount,
		Currency:  req.Currency,
		PaymentID: strings.TrimSpace(req.PaymentID),
	})
	if err != nil {
		h.providerFailure(w, "create payment intent", err)
		return
	}

	writeJSON(w, http.StatusOK, createPaymentIntentResponse{
		ClientSecret:    pi.ClientSecret,
		PaymentIntentID: pi.ID,
	})
}

type paymentInfoRequest struct {
	PaymentID       string `json:"paymentId"`
	StripePaymentID string `json:"stripePaymentId"`
	CreatorID       string `json:"creator_id"`
}

// PaymentInfo confirms a payment the client reports as paid. The provider is asked
// for the intent's real status before anything is written.
func (h *Handler) PaymentInfo(w http.ResponseWriter, r *http.Request) {
	var req paymentInfoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.PaymentID = strings.TrimSpace(req.PaymentID)
	req.StripePaymentID = strings.TrimSpace(req.StripePaymentID)
	req.CreatorID = strings.TrimSpace(req.CreatorID)
	if req.PaymentID == "" || req.StripePaymentID == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields", "paymentId and stripePaymentId are required")
		return
	}

	ctx := r.Context()

	pi, err := h.provider.RetrievePaymentIntent(ctx, req.StripePaymentID)
	if err != nil {
		h.providerFailure(w, "retrieve payment intent", err)
		return
	}
	if !pi.Succeeded() {
		msg := fmt.Sprintf("payment intent %s has status %s", pi.ID, pi.Status)
		if pi.LastPaymentError != "" {
			msg += ": " + pi.LastPaymentError
		}
		writeError(w, http.StatusBadRequest, "Payment not completed", msg)
		return
	}

	var payment *models.Payment
	if req.CreatorID != "" {
		payment, err = h.payments.GetForCreator(ctx, req.PaymentID, req.CreatorID)
	} else {
		payment, err = h.payments.Get(ctx, req.PaymentID)
	}
	if err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Payment not found", "no payment "+req.PaymentID+" for this creator")
			return
		}
		h.databaseFailure(w, "fetch payment", err)
		return
	}

	if pi.Amount != payment.Amount || !strings.EqualFold(pi.Currency, payment.Currency) {
		writeError(w, http.StatusBadRequest, "Payment mismatch",
			fmt.Sprintf("payment intent is for %d %s, payment expects %d %s", pi.Amount, pi.Currency, payment.Amount, payment.Currency))
		return
	}
	if id := pi.Metadata["payment_id"]; id != "" && id != payment.ID {
		writeError(w, http.StatusBadRequest, "Payment mismatch", "payment intent belongs to a different payment")
		return
	}

	if err := h.complete(ctx, payment, pi.ID); err != nil {
		if errors.Is(err, payments.ErrNoRowsAffected) {
			writeError(w, http.StatusNotFound, "Payment not found", err.Error())
			return
		}
		if isReferenceConflict(err) {
			writeError(w, http.StatusBadRequest, "Payment mismatch", err.Error())
			return
		}
		h.databaseFailure(w, "update payment status", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

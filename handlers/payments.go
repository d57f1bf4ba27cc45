package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/impactmarket/server/auth"
	"github.com/impactmarket/server/models"
	"github.com/impactmarket/server/payments"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

type createPaymentRequest struct {
	CreatorID   string `json:"creator_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	PayerEmail  string `json:"payer_email"`
	PayerName   string `json:"payer_name"`
	Description string `json:"description"`
}

type createPaymentResponse struct {
	ID     string               `json:"id"`
	Status models.PaymentStatus `json:"status"`
}

// CreatePayment stores a pending payment before any provider call is made.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CreatorID = strings.TrimSpace(req.CreatorID)
	req.Currency = strings.TrimSpace(req.Currency)
	if req.CreatorID == "" || req.Amount <= 0 || req.Currency == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields", "creator_id, amount and currency are required")
		return
	}
	if !validCurrency(req.Currency) {
		writeError(w, http.StatusBadRequest, "Invalid currency", "currency must be a 3-letter code")
		return
	}

	payment := &models.Payment{
		ID:          h.newID(),
		CreatorID:   req.CreatorID,
		Amount:      req.Amount,
		Currency:    strings.ToUpper(req.Currency),
		Status:      models.PaymentStatusPending,
		PayerEmail:  optional(req.PayerEmail),
		PayerName:   optional(req.PayerName),
		Description: optional(req.Description),
	}
	if err := h.payments.Create(r.Context(), payment); err != nil {
		h.databaseFailure(w, "create payment", err)
		return
	}

	writeJSON(w, http.StatusCreated, createPaymentResponse{ID: payment.ID, Status: payment.Status})
}

// GetPayment returns the public view of a payment, used by the result pages.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentId")

	payment, err := h.payments.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Payment not found", "no payment "+id)
			return
		}
		h.databaseFailure(w, "fetch payment", err)
		return
	}

	writeJSON(w, http.StatusOK, payment.Public())
}

// CreatorPayments lists the authenticated creator's payments, newest first.
func (h *Handler) CreatorPayments(w http.ResponseWriter, r *http.Request) {
	user := auth.ForContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "a valid bearer token is required")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	list, err := h.payments.ListByCreator(r.Context(), user.ID, limit)
	if err != nil {
		h.databaseFailure(w, "list payments", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"payments": list})
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/impactmarket/server/models"
	"github.com/impactmarket/server/payments"
	"github.com/impactmarket/server/provider"
)

// errAlreadyConfirmed is returned when a completed payment is confirmed again with a
// different provider transaction.
var errAlreadyConfirmed = errors.New("payment already confirmed by a different transaction")

// Notifier is told about every payment that moves from pending to completed.
type Notifier interface {
	PaymentCompleted(ctx context.Context, payment models.Payment) error
}

type Handler struct {
	payments  payments.Repository
	provider  provider.Provider
	notifiers []Notifier
	logger    *log.Logger
	newID     func() string
}

func New(repo payments.Repository, prov provider.Provider, logger *log.Logger, notifiers ...Notifier) *Handler {
	if logger == nil {
		logger = log.New(os.Stdout, "[handlers] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Handler{
		payments:  repo,
		provider:  prov,
		notifiers: notifiers,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, title, message string) {
	writeJSON(w, status, errorResponse{Error: title, Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return false
	}
	return true
}

// validCurrency accepts ISO 4217 style three letter codes in either case.
func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// providerFailure maps a provider error to the response the caller sees.
func (h *Handler) providerFailure(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, provider.ErrMissingFields) {
		writeError(w, http.StatusBadRequest, "Missing required fields", err.Error())
		return
	}

	h.logger.Printf("%s: %v", op, err)

	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		writeError(w, http.StatusInternalServerError, "Payment provider error", pe.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, "Payment provider error", err.Error())
}

func (h *Handler) databaseFailure(w http.ResponseWriter, op string, err error) {
	h.logger.Printf("%s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "Database error", err.Error())
}

// complete marks a payment completed and notifies once per pending to completed
// transition. A row that was already completed is rewritten with the same status.
// A provider transaction confirms at most one payment, and a completed payment only
// accepts the reference it was completed with.
func (h *Handler) complete(ctx context.Context, p *models.Payment, reference string) error {
	wasPending := !p.IsCompleted()

	if reference != "" {
		if !wasPending && p.ExternalReference != nil && *p.ExternalReference != reference {
			return errAlreadyConfirmed
		}

		holder, err := h.payments.GetByReference(ctx, reference)
		switch {
		case err == nil && holder.ID != p.ID:
			return payments.ErrReferenceInUse
		case err != nil && !errors.Is(err, payments.ErrNotFound):
			return err
		}
	}

	err := h.payments.UpdateStatus(ctx, p.ID, p.CreatorID, payments.Update{
		Status:            models.PaymentStatusCompleted,
		ExternalReference: reference,
	})
	if err != nil {
		return err
	}

	if !wasPending {
		h.logger.Printf("payment %s was already completed", p.ID)
		return nil
	}

	done := *p
	done.Status = models.PaymentStatusCompleted
	if reference != "" {
		done.ExternalReference = &reference
	}
	h.logger.Printf("payment %s completed (reference %s)", p.ID, reference)
	h.notify(context.WithoutCancel(ctx), done)
	return nil
}

func isReferenceConflict(err error) bool {
	return errors.Is(err, payments.ErrReferenceInUse) || errors.Is(err, errAlreadyConfirmed)
}

func (h *Handler) notify(ctx context.Context, p models.Payment) {
	for _, n := range h.notifiers {
		if err := n.PaymentCompleted(ctx, p); err != nil {
			h.logger.Printf("notify payment %s completed: %v", p.ID, err)
		}
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

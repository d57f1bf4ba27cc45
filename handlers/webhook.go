package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/impactmarket/server/payments"
	"github.com/impactmarket/server/provider"
)

// StripeWebhook receives provider events. Only verified events reach the database.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}

	event, err := h.provider.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Printf("webhook rejected: %v", err)
		writeError(w, http.StatusBadRequest, "Webhook signature verification failed", err.Error())
		return
	}

	switch event.Type {
	case provider.EventCheckoutSessionCompleted, provider.EventCheckoutSessionAsyncPaymentSucceeded:
		if err := h.completeCheckout(r.Context(), event); err != nil {
			h.databaseFailure(w, "webhook "+event.ID, err)
			return
		}
	case provider.EventPaymentIntentSucceeded:
		if pi := event.PaymentIntent; pi != nil {
			h.logger.Printf("payment intent %s succeeded (%d %s)", pi.ID, pi.Amount, pi.Currency)
		}
	case provider.EventPaymentIntentFailed:
		if pi := event.PaymentIntent; pi != nil {
			h.logger.Printf("payment intent %s failed: %s", pi.ID, pi.LastPaymentError)
		}
	default:
		h.logger.Printf("unhandled event type %s (%s)", event.Type, event.ID)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// completeCheckout returns an error only when the event should be redelivered.
func (h *Handler) completeCheckout(ctx context.Context, event *provider.Event) error {
	sess := event.CheckoutSession
	if sess == nil {
		h.logger.Printf("event %s carries no checkout session", event.ID)
		return nil
	}
	if !sess.Paid() {
		h.logger.Printf("checkout session %s is %s, leaving payment pending", sess.ID, sess.PaymentStatus)
		return nil
	}

	id := sess.PaymentID()
	if id == "" {
		h.logger.Printf("checkout session %s has no payment_id", sess.ID)
		return nil
	}

	payment, err := h.payments.Get(ctx, id)
	if err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			h.logger.Printf("checkout session %s references unknown payment %s", sess.ID, id)
			return nil
		}
		return err
	}

	if err := h.complete(ctx, payment, sess.Reference()); err != nil {
		if errors.Is(err, payments.ErrNoRowsAffected) {
			h.logger.Printf("payment %s vanished before update", id)
			return nil
		}
		if isReferenceConflict(err) {
			h.logger.Printf("checkout session %s not applied to payment %s: %v", sess.ID, id, err)
			return nil
		}
		return err
	}
	return nil
}

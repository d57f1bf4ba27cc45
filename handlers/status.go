package handlers

import (
	"net/http"
)

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type testResponse struct {
	Message      string `json:"message"`
	StripeStatus string `json:"stripe_status"`
	AccountID    string `json:"account_id"`
}

// Test checks that the configured provider credentials work.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	acct, err := h.provider.Account(r.Context())
	if err != nil {
		h.logger.Printf("provider connectivity check: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Stripe connection failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, testResponse{
		Message:      "Server is running",
		StripeStatus: "connected",
		AccountID:    acct.ID,
	})
}

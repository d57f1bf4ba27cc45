package handlers

import (
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/impactmarket/server/auth"
	"github.com/impactmarket/server/ratelimit"
)

const (
	maxRequestBody = 16 << 10
	maxWebhookBody = 64 << 10
)

type Deps struct {
	Handler        *Handler
	Limiter        *ratelimit.Limiter
	Verifier       *auth.Verifier
	AllowedOrigins []string
	Logger         *log.Logger

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

func NewRouter(d Deps) http.Handler {
	h := d.Handler
	logger := d.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[http] ", log.LstdFlags|log.Lmicroseconds)
	}
	verifier := d.Verifier
	if verifier == nil {
		verifier = auth.NewVerifier("")
	}
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if d.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(recoverer(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/test", h.Test)
		r.Post("/stripe-webhook", h.StripeWebhook)
		r.Get("/payments/{paymentId}", h.GetPayment)

		r.Group(func(r chi.Router) {
			if d.Limiter != nil {
				r.Use(d.Limiter.Middleware)
			}
			r.Post("/create-payment-intent", h.CreatePaymentIntent)
			r.Post("/create-checkout-session", h.CreateCheckoutSession)
			r.Post("/payment-info", h.PaymentInfo)
			r.Post("/payments", h.CreatePayment)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(verifier))
			r.Get("/creators/me/payments", h.CreatorPayments)
		})
	})

	return r
}

func recoverer(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Printf("panic [%s] %s %s: %v", middleware.GetReqID(r.Context()), r.Method, r.URL.Path, rec)
					writeError(w, http.StatusInternalServerError, "Internal server error", "")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

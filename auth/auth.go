package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var Logger = log.New(os.Stdout, "[auth] ", log.LstdFlags)

// A private key for context that only this package can access. This is important
// to prevent collisions between different context uses
var userCtxKey = &contextKey{"user"}

type contextKey struct {
	name string
}

// Claims is the subset of a Supabase access token we rely on. The subject is the
// creator's user id.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// User is the authenticated creator attached to a request.
type User struct {
	ID    string
	Email string
	Role  string
}

// Verifier checks Supabase-issued HS256 access tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(raw string) (*User, error) {
	if len(v.secret) == 0 {
		return nil, errors.New("no jwt secret configured")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("token has no subject")
	}

	return &User{ID: sub, Email: claims.Email, Role: claims.Role}, nil
}

// Middleware decodes the bearer token and packs the user into context. Requests
// without a token pass through anonymously.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
			if len(t) != 2 || !strings.EqualFold(t[0], "Bearer") {
				next.ServeHTTP(w, r)
				return
			}

			user, err := v.Verify(t[1])
			if err != nil {
				Logger.Printf("rejected token: %v", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"Invalid token"}`))
				return
			}

			// put it in context
			ctx := context.WithValue(r.Context(), userCtxKey, user)

			// and call the next with our new context
			r = r.WithContext(ctx)
			next.ServeHTTP(w, r)
		})
	}
}

// ForContext finds the user from the context. REQUIRES Middleware to have run.
func ForContext(ctx context.Context) *User {
	raw, _ := ctx.Value(userCtxKey).(*User)
	return raw
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

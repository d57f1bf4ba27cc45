package ratelimit

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultCooldown    = time.Second
	DefaultRetention   = time.Minute
	DefaultSweepChance = 0.1
)

// Store records the last accepted hit per key.
type Store interface {
	// Hit records now for key unless the previous hit is newer than now-cooldown.
	// It reports whether the hit was recorded.
	Hit(ctx context.Context, key string, now time.Time, cooldown time.Duration) (bool, error)
	// Sweep removes keys whose last hit is older than cutoff.
	Sweep(ctx context.Context, cutoff time.Time) error
}

// Limiter enforces a per-key cooldown between accepted requests.
type Limiter struct {
	store       Store
	cooldown    time.Duration
	retention   time.Duration
	sweepChance float64
	now         func() time.Time
	random      func() float64
	logger      *log.Logger
}

type Option func(*Limiter)

func WithCooldown(d time.Duration) Option {
	return func(l *Limiter) { l.cooldown = d }
}

func WithRetention(d time.Duration) Option {
	return func(l *Limiter) { l.retention = d }
}

func WithSweepChance(p float64) Option {
	return func(l *Limiter) { l.sweepChance = p }
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithRandom(random func() float64) Option {
	return func(l *Limiter) { l.random = random }
}

func WithLogger(logger *log.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:       store,
		cooldown:    DefaultCooldown,
		retention:   DefaultRetention,
		sweepChance: DefaultSweepChance,
		now:         time.Now,
		random:      rand.Float64,
		logger:      log.New(os.Stdout, "[ratelimit] ", log.LstdFlags|log.Lmicroseconds),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether a request for key may proceed, recording it when it does.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now()

	allowed, err := l.store.Hit(ctx, key, now, l.cooldown)

	if l.random() < l.sweepChance {
		if sweepErr := l.store.Sweep(ctx, now.Add(-l.retention)); sweepErr != nil {
			l.logger.Printf("sweep rate limit entries: %v", sweepErr)
		}
	}

	return allowed, err
}

// Middleware rejects requests arriving within the cooldown of the previous accepted
// request from the same client address on the same path. Store failures let the
// request through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientAddr(r) + " " + r.URL.Path

		allowed, err := l.Allow(r.Context(), key)
		if err != nil {
			l.logger.Printf("rate limit check for %q failed: %v", key, err)
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfterSeconds(l.cooldown))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "Too many requests",
				"message": "Please wait a moment before trying again",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientAddr drops the ephemeral port so every connection from a host shares a key.
// RemoteAddr is the TCP peer unless the router was told to trust proxy headers.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// MemoryStore keeps hits in process memory. Entries are lost on restart.
type MemoryStore struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lastSeen: make(map[string]time.Time)}
}

func (s *MemoryStore) Hit(ctx context.Context, key string, now time.Time, cooldown time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastSeen[key]; ok && now.Sub(last) < cooldown {
		return false, nil
	}

	s.lastSeen[key] = now
	return true, nil
}

func (s *MemoryStore) Sweep(ctx context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, last := range s.lastSeen {
		if last.Before(cutoff) {
			delete(s.lastSeen, key)
		}
	}
	return nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.lastSeen)
}

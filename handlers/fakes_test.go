package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/impactmarket/server/models"
	"github.com/impactmarket/server/payments"
	"github.com/impactmarket/server/provider"
)

type fakeRepo struct {
	mu       sync.Mutex
	rows     map[string]*models.Payment
	updates  []payments.Update
	types    map[string]string
	writes   int
	err      error
	typeErr  error
	listArgs []int
}

func newFakeRepo(rows ...models.Payment) *fakeRepo {
	r := &fakeRepo{rows: map[string]*models.Payment{}, types: map[string]string{}}
	for i := range rows {
		p := rows[i]
		r.rows[p.ID] = &p
	}
	return r
}

func (r *fakeRepo) row(id string) models.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rows[id]
}

func (r *fakeRepo) Create(ctx context.Context, p *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.writes++
	cp := *p
	r.rows[p.ID] = &cp
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, id string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	p, ok := r.rows[id]
	if !ok {
		return nil, payments.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeRepo) GetForCreator(ctx context.Context, id, creatorID string) (*models.Payment, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.CreatorID != creatorID {
		return nil, payments.ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, p := range r.rows {
		if p.ExternalReference != nil && *p.ExternalReference == reference {
			cp := *p
			return &cp, nil
		}
	}
	return nil, payments.ErrNotFound
}

func (r *fakeRepo) ListByCreator(ctx context.Context, creatorID string, limit int) ([]models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.listArgs = append(r.listArgs, limit)
	out := []models.Payment{}
	for _, p := range r.rows {
		if p.CreatorID == creatorID && len(out) < limit {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *fakeRepo) SetPaymentType(ctx context.Context, id, paymentType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.typeErr != nil {
		return r.typeErr
	}
	p, ok := r.rows[id]
	if !ok {
		return payments.ErrNotFound
	}
	r.writes++
	r.types[id] = paymentType
	p.PaymentType = &paymentType
	return nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, id, creatorID string, update payments.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	p, ok := r.rows[id]
	if !ok || p.CreatorID != creatorID {
		return payments.ErrNoRowsAffected
	}
	for otherID, other := range r.rows {
		if otherID != id && update.ExternalReference != "" && other.ExternalReference != nil && *other.ExternalReference == update.ExternalReference {
			return payments.ErrReferenceInUse
		}
	}
	r.writes++
	r.updates = append(r.updates, update)
	p.Status = update.Status
	if update.ExternalReference != "" {
		ref := update.ExternalReference
		p.ExternalReference = &ref
	}
	return nil
}

type fakeProvider struct {
	intents   map[string]*provider.PaymentIntent
	created   []provider.PaymentIntentRequest
	checkouts []provider.CheckoutRequest
	event     *provider.Event
	verified  [][]byte
	account   *provider.Account
	err       error
}

func (p *fakeProvider) CreatePaymentIntent(ctx context.Context, req provider.PaymentIntentRequest) (*provider.PaymentIntent, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.created = append(p.created, req)
	return &provider.PaymentIntent{ID: "pi_new", ClientSecret: "pi_new_secret_abc", Status: "requires_payment_method", Amount: req.Amount, Currency: req.Currency}, nil
}

func (p *fakeProvider) CreateCheckoutSession(ctx context.Context, req provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.checkouts = append(p.checkouts, req)
	return &provider.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

func (p *fakeProvider) RetrievePaymentIntent(ctx context.Context, id string) (*provider.PaymentIntent, error) {
	if p.err != nil {
		return nil, p.err
	}
	pi, ok := p.intents[id]
	if !ok {
		return nil, &provider.ProviderError{Status: 404, Code: "resource_missing", Message: "No such payment_intent: '" + id + "'"}
	}
	return pi, nil
}

func (p *fakeProvider) VerifyWebhook(payload []byte, signature string) (*provider.Event, error) {
	p.verified = append(p.verified, payload)
	if signature != "valid" {
		return nil, provider.ErrInvalidSignature
	}
	return p.event, nil
}

func (p *fakeProvider) Account(ctx context.Context) (*provider.Account, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.account, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []models.Payment
	err  error
}

func (n *recordingNotifier) PaymentCompleted(ctx context.Context, p models.Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, p)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.seen)
}

var errDatabase = errors.New("connection reset by peer")

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func pendingPayment(id, creator string, amount int64, currency string) models.Payment {
	return models.Payment{
		ID:        id,
		CreatorID: creator,
		Amount:    amount,
		Currency:  currency,
		Status:    models.PaymentStatusPending,
	}
}

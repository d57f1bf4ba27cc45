package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	impactDB "github.com/impactmarket/server/db"
	"github.com/impactmarket/server/models"
)

var (
	ErrNotFound = errors.New("payment not found")
	// ErrNoRowsAffected is returned when a conditional update matched nothing,
	// either because the payment is gone or it belongs to another creator.
	ErrNoRowsAffected = errors.New("no payment rows affected")
	// ErrReferenceInUse is returned when another payment already holds the
	// external reference being written.
	ErrReferenceInUse = errors.New("external reference already used by another payment")
)

const uniqueViolation = "23505"

// Update describes the fields a status transition may write.
type Update struct {
	Status            models.PaymentStatus
	ExternalReference string
}

type Repository interface {
	Create(ctx context.Context, p *models.Payment) error
	Get(ctx context.Context, id string) (*models.Payment, error)
	GetForCreator(ctx context.Context, id, creatorID string) (*models.Payment, error)
	GetByReference(ctx context.Context, reference string) (*models.Payment, error)
	ListByCreator(ctx context.Context, creatorID string, limit int) ([]models.Payment, error)
	SetPaymentType(ctx context.Context, id, paymentType string) error
	UpdateStatus(ctx context.Context, id, creatorID string, update Update) error
}

type PostgresRepository struct {
	db impactDB.Querier
}

func NewPostgresRepository(db impactDB.Querier) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const paymentColumns = "id, creator_id, amount, currency, status, external_reference, payment_type, payer_email, payer_name, description, created_at, updated_at"

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(row scanner) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(
		&p.ID, &p.CreatorID, &p.Amount, &p.Currency, &p.Status,
		&p.ExternalReference, &p.PaymentType, &p.PayerEmail, &p.PayerName, &p.Description,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) Create(ctx context.Context, p *models.Payment) error {
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}

	res := impactDB.LogAndQueryRow(ctx, r.db,
		"INSERT INTO payments (id, creator_id, amount, currency, status, payer_email, payer_name, description) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at, updated_at",
		p.ID, p.CreatorID, p.Amount, p.Currency, p.Status, p.PayerEmail, p.PayerName, p.Description)
	if err := res.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Payment, error) {
	res := impactDB.LogAndQueryRow(ctx, r.db, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", id)

	p, err := scanPayment(res)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select payment: %w", err)
	}

	return p, nil
}

func (r *PostgresRepository) GetForCreator(ctx context.Context, id, creatorID string) (*models.Payment, error) {
	res := impactDB.LogAndQueryRow(ctx, r.db, "SELECT "+paymentColumns+" FROM payments WHERE id = $1 AND creator_id = $2", id, creatorID)

	p, err := scanPayment(res)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select payment: %w", err)
	}

	return p, nil
}

func (r *PostgresRepository) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	res := impactDB.LogAndQueryRow(ctx, r.db, "SELECT "+paymentColumns+" FROM payments WHERE external_reference = $1", reference)

	p, err := scanPayment(res)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select payment by reference: %w", err)
	}

	return p, nil
}

func (r *PostgresRepository) ListByCreator(ctx context.Context, creatorID string, limit int) ([]models.Payment, error) {
	res, err := impactDB.LogAndQuery(ctx, r.db, "SELECT "+paymentColumns+" FROM payments WHERE creator_id = $1 ORDER BY created_at DESC LIMIT $2", creatorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer res.Close()

	payments := []models.Payment{}
	for res.Next() {
		p, err := scanPayment(res)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	return payments, nil
}

func (r *PostgresRepository) SetPaymentType(ctx context.Context, id, paymentType string) error {
	res, err := impactDB.LogAndExec(ctx, r.db, "UPDATE payments SET payment_type = $1, updated_at = now() WHERE id = $2", paymentType, id)
	if err != nil {
		return fmt.Errorf("update payment type: %w", err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payment type: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateStatus writes a status transition scoped to both the payment and its creator.
// An empty ExternalReference leaves the stored reference untouched.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id, creatorID string, update Update) error {
	var ref *string
	if update.ExternalReference != "" {
		ref = &update.ExternalReference
	}

	res, err := impactDB.LogAndExec(ctx, r.db,
		"UPDATE payments SET status = $1, external_reference = COALESCE($2, external_reference), updated_at = now() WHERE id = $3 AND creator_id = $4",
		update.Status, ref, id, creatorID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrReferenceInUse
		}
		return fmt.Errorf("update payment status: %w", err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if count == 0 {
		return ErrNoRowsAffected
	}

	return nil
}

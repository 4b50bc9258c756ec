package payments

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the payments table for dev bootstrapping; production uses
// the goose migrations.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payments (
			reference       VARCHAR(128) PRIMARY KEY,
			organizer_id    VARCHAR(64) NOT NULL,
			event_id        VARCHAR(36) NOT NULL,
			tier_id         VARCHAR(36) NOT NULL,
			quantity        INT NOT NULL CHECK (quantity > 0),
			amount          BIGINT NOT NULL CHECK (amount > 0),
			paid_amount     BIGINT,
			fee_amount      BIGINT,
			net_amount      BIGINT,
			buyer_email     VARCHAR(255),
			attendee_name   VARCHAR(255),
			status          VARCHAR(12) NOT NULL DEFAULT 'PENDING',
			review_required BOOLEAN NOT NULL DEFAULT FALSE,
			review_reason   TEXT,
			transaction_ref VARCHAR(128),
			verified_at     TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_payments_pending
			ON payments(created_at) WHERE status = 'PENDING';
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, pay *Payment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payments
			(reference, organizer_id, event_id, tier_id, quantity, amount,
			 buyer_email, attendee_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11)
	`, pay.Reference, pay.OrganizerID, pay.EventID, pay.TierID, pay.Quantity, pay.Amount,
		pay.BuyerEmail, pay.AttendeeName, pay.Status, pay.CreatedAt, pay.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrPaymentExists
	}
	return err
}

const paymentColumns = `reference, organizer_id, event_id, tier_id, quantity, amount,
	COALESCE(paid_amount, 0), COALESCE(fee_amount, 0), COALESCE(net_amount, 0),
	COALESCE(buyer_email, ''), COALESCE(attendee_name, ''), status,
	review_required, COALESCE(review_reason, ''), COALESCE(transaction_ref, ''),
	verified_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*Payment, error) {
	var pay Payment
	var verifiedAt sql.NullTime
	err := row.Scan(&pay.Reference, &pay.OrganizerID, &pay.EventID, &pay.TierID,
		&pay.Quantity, &pay.Amount, &pay.PaidAmount, &pay.FeeAmount, &pay.NetAmount,
		&pay.BuyerEmail, &pay.AttendeeName, &pay.Status,
		&pay.ReviewRequired, &pay.ReviewReason, &pay.TransactionRef,
		&verifiedAt, &pay.CreatedAt, &pay.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		pay.VerifiedAt = &verifiedAt.Time
	}
	return &pay, nil
}

func (p *PostgresStore) Get(ctx context.Context, reference string) (*Payment, error) {
	pay, err := scanPayment(p.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE reference = $1
	`, reference))
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	return pay, err
}

func (p *PostgresStore) MarkFailed(ctx context.Context, reference, reason string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payments
		SET status = 'FAILED', review_reason = $2, updated_at = NOW()
		WHERE reference = $1 AND status = 'PENDING'
	`, reference, reason)
	if err != nil {
		return err
	}
	return requireRow(ctx, p.db, res, reference)
}

func (p *PostgresStore) MarkRefunded(ctx context.Context, reference string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payments SET status = 'REFUNDED', updated_at = NOW()
		WHERE reference = $1 AND status = 'SUCCESS'
	`, reference)
	if err != nil {
		return err
	}
	return requireRow(ctx, p.db, res, reference)
}

func (p *PostgresStore) FlagReview(ctx context.Context, reference, reason string, paidAmount int64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payments
		SET review_required = TRUE, review_reason = $2, paid_amount = $3, updated_at = NOW()
		WHERE reference = $1
	`, reference, reason, paidAmount)
	if err != nil {
		return err
	}
	return requireRow(ctx, p.db, res, reference)
}

func (p *PostgresStore) ListPending(ctx context.Context, before time.Time, limit int) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'PENDING' AND review_required = FALSE AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		pay, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pay)
	}
	return out, rows.Err()
}

// requireRow distinguishes "no such payment" from "wrong state" after a
// conditional update touched zero rows.
func requireRow(ctx context.Context, db *sql.DB, res sql.Result, reference string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM payments WHERE reference = $1)
	`, reference).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrPaymentNotFound
	}
	return ErrAlreadySettled
}

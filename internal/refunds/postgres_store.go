package refunds

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed refund store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the refund_requests table for dev bootstrapping;
// production uses the goose migrations.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS refund_requests (
			id             VARCHAR(64) PRIMARY KEY,
			ticket_id      VARCHAR(64) NOT NULL,
			requester_id   VARCHAR(64) NOT NULL,
			status         VARCHAR(12) NOT NULL DEFAULT 'PENDING',
			reason         TEXT NOT NULL,
			rejection_note TEXT,
			refund_amount  BIGINT NOT NULL CHECK (refund_amount > 0),
			refund_ref     VARCHAR(128),
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at   TIMESTAMPTZ,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		-- One open request per ticket at a time.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_refunds_open_ticket
			ON refund_requests(ticket_id) WHERE status <> 'REJECTED';

		CREATE INDEX IF NOT EXISTS idx_refunds_status
			ON refund_requests(status, created_at);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, r *RefundRequest) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO refund_requests
			(id, ticket_id, requester_id, status, reason, refund_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.TicketID, r.RequesterID, r.Status, r.Reason, r.RefundAmount,
		r.CreatedAt, r.UpdatedAt)
	return err
}

const refundColumns = `id, ticket_id, requester_id, status, reason,
	COALESCE(rejection_note, ''), refund_amount, COALESCE(refund_ref, ''),
	created_at, processed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefund(row rowScanner) (*RefundRequest, error) {
	var r RefundRequest
	var processedAt sql.NullTime
	err := row.Scan(&r.ID, &r.TicketID, &r.RequesterID, &r.Status, &r.Reason,
		&r.RejectionNote, &r.RefundAmount, &r.RefundRef,
		&r.CreatedAt, &processedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		r.ProcessedAt = &processedAt.Time
	}
	return &r, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*RefundRequest, error) {
	r, err := scanRefund(p.db.QueryRowContext(ctx, `
		SELECT `+refundColumns+` FROM refund_requests WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, ErrRefundNotFound
	}
	return r, err
}

func (p *PostgresStore) Approve(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE refund_requests SET status = 'APPROVED', updated_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`, id, at)
	if err != nil {
		return err
	}
	return p.requireRow(ctx, res, id)
}

func (p *PostgresStore) Reject(ctx context.Context, id, note string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE refund_requests
		SET status = 'REJECTED', rejection_note = $2, updated_at = $3
		WHERE id = $1 AND status = 'PENDING'
	`, id, note, at)
	if err != nil {
		return err
	}
	return p.requireRow(ctx, res, id)
}

func (p *PostgresStore) MarkProcessing(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE refund_requests SET status = 'PROCESSING', updated_at = NOW()
		WHERE id = $1 AND status = 'APPROVED'
	`, id)
	if err != nil {
		return err
	}
	return p.requireRow(ctx, res, id)
}

func (p *PostgresStore) ReleaseProcessing(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE refund_requests SET status = 'APPROVED', updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`, id)
	if err != nil {
		return err
	}
	return p.requireRow(ctx, res, id)
}

func (p *PostgresStore) MarkProcessed(ctx context.Context, id, refundRef string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE refund_requests
		SET status = 'PROCESSED', refund_ref = $2, processed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'PROCESSING'
	`, id, refundRef, at)
	if err != nil {
		return err
	}
	return p.requireRow(ctx, res, id)
}

func (p *PostgresStore) OpenForTicket(ctx context.Context, ticketID string) (bool, error) {
	var open bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM refund_requests
			WHERE ticket_id = $1 AND status <> 'REJECTED'
		)
	`, ticketID).Scan(&open)
	return open, err
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*RefundRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+refundColumns+`
		FROM refund_requests
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RefundRequest
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) requireRow(ctx context.Context, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM refund_requests WHERE id = $1)
	`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrRefundNotFound
	}
	return ErrInvalidState
}

package withdrawals

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed withdrawal store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the withdrawals table for dev bootstrapping; production
// uses the goose migrations.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS withdrawals (
			id             VARCHAR(64) PRIMARY KEY,
			organizer_id   VARCHAR(64) NOT NULL,
			amount         BIGINT NOT NULL CHECK (amount > 0),
			status         VARCHAR(12) NOT NULL DEFAULT 'PENDING_OTP',
			otp_code       VARCHAR(6) NOT NULL,
			otp_expires_at TIMESTAMPTZ NOT NULL,
			otp_attempts   INT NOT NULL DEFAULT 0,
			bank_code      VARCHAR(16),
			account_number VARCHAR(32),
			account_name   VARCHAR(255),
			transfer_ref   VARCHAR(128),
			failure_reason TEXT,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at   TIMESTAMPTZ,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_withdrawals_organizer
			ON withdrawals(organizer_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_withdrawals_processing
			ON withdrawals(updated_at) WHERE status = 'PROCESSING';
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, w *Withdrawal) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO withdrawals
			(id, organizer_id, amount, status, otp_code, otp_expires_at, otp_attempts,
			 bank_code, account_number, account_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12)
	`, w.ID, w.OrganizerID, w.Amount, w.Status, w.OTPCode, w.OTPExpiresAt, w.OTPAttempts,
		w.BankCode, w.AccountNumber, w.AccountName, w.CreatedAt, w.UpdatedAt)
	return err
}

const withdrawalColumns = `id, organizer_id, amount, status, otp_code, otp_expires_at,
	otp_attempts, COALESCE(bank_code, ''), COALESCE(account_number, ''),
	COALESCE(account_name, ''), COALESCE(transfer_ref, ''),
	COALESCE(failure_reason, ''), created_at, processed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWithdrawal(row rowScanner) (*Withdrawal, error) {
	var w Withdrawal
	var processedAt sql.NullTime
	err := row.Scan(&w.ID, &w.OrganizerID, &w.Amount, &w.Status, &w.OTPCode,
		&w.OTPExpiresAt, &w.OTPAttempts, &w.BankCode, &w.AccountNumber,
		&w.AccountName, &w.TransferRef, &w.FailureReason,
		&w.CreatedAt, &processedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		w.ProcessedAt = &processedAt.Time
	}
	return &w, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Withdrawal, error) {
	w, err := scanWithdrawal(p.db.QueryRowContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, ErrWithdrawalNotFound
	}
	return w, err
}

func (p *PostgresStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := p.db.QueryRowContext(ctx, `
		UPDATE withdrawals
		SET otp_attempts = otp_attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING_OTP'
		RETURNING otp_attempts
	`, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, p.missingOrWrongState(ctx, id)
	}
	return attempts, err
}

func (p *PostgresStore) MarkProcessing(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE withdrawals SET status = 'PROCESSING', updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING_OTP'
	`, id)
	if err != nil {
		return err
	}
	return p.requireRow(ctx, res, id)
}

func (p *PostgresStore) Complete(ctx context.Context, id, transferRef string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE withdrawals
		SET status = 'COMPLETED', transfer_ref = $2, processed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'PROCESSING'
	`, id, transferRef, at)
	if err != nil {
		return err
	}
	return p.requireRow(ctx, res, id)
}

func (p *PostgresStore) Fail(ctx context.Context, id, reason string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE withdrawals
		SET status = 'FAILED', failure_reason = $2, processed_at = $3, updated_at = $3
		WHERE id = $1 AND status IN ('PENDING_OTP', 'PROCESSING')
	`, id, reason, at)
	if err != nil {
		return err
	}
	return p.requireRow(ctx, res, id)
}

func (p *PostgresStore) ListByOrganizer(ctx context.Context, organizerID string, limit int) ([]*Withdrawal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE organizer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, organizerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*Withdrawal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE status = 'PROCESSING' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
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
	return p.missingOrWrongState(ctx, id)
}

func (p *PostgresStore) missingOrWrongState(ctx context.Context, id string) error {
	var exists bool
	if err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM withdrawals WHERE id = $1)
	`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrWithdrawalNotFound
	}
	return ErrInvalidState
}

package tickets

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore implements Store with PostgreSQL. Check-in is a single
// conditional UPDATE on status so concurrent attempts race on the row, not in
// application code.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ticket store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ticket tables for dev bootstrapping; production uses
// the goose migrations.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tickets (
			id                VARCHAR(36) PRIMARY KEY,
			number            VARCHAR(24) NOT NULL UNIQUE,
			event_id          VARCHAR(36) NOT NULL,
			tier_id           VARCHAR(36) NOT NULL,
			organizer_id      VARCHAR(64) NOT NULL,
			payment_reference VARCHAR(128) NOT NULL,
			attendee_name     VARCHAR(255),
			status            VARCHAR(12) NOT NULL DEFAULT 'ACTIVE',
			checked_in_at     TIMESTAMPTZ,
			checked_in_by     VARCHAR(36),
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_payment ON tickets(payment_reference);
		CREATE INDEX IF NOT EXISTS idx_tickets_tier ON tickets(tier_id);

		CREATE TABLE IF NOT EXISTS agent_codes (
			id             VARCHAR(36) PRIMARY KEY,
			event_id       VARCHAR(36) NOT NULL,
			code           VARCHAR(24) NOT NULL,
			label          VARCHAR(255),
			active         BOOLEAN NOT NULL DEFAULT TRUE,
			activated_at   TIMESTAMPTZ,
			last_used_at   TIMESTAMPTZ,
			check_in_count BIGINT NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (event_id, code)
		);
	`)
	return err
}

// InsertTicketsTx inserts issued tickets inside a caller-owned transaction;
// payment settlement uses it so tickets exist iff the payment is SUCCESS.
func InsertTicketsTx(ctx context.Context, tx *sql.Tx, ts []*Ticket) error {
	for _, t := range ts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tickets
				(id, number, event_id, tier_id, organizer_id, payment_reference,
				 attendee_name, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)
		`, t.ID, t.Number, t.EventID, t.TierID, t.OrganizerID, t.PaymentReference,
			t.AttendeeName, t.Status, t.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) InsertTickets(ctx context.Context, ts []*Ticket) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := InsertTicketsTx(ctx, tx, ts); err != nil {
		return err
	}
	return tx.Commit()
}

const ticketColumns = `id, number, event_id, tier_id, organizer_id, payment_reference,
	COALESCE(attendee_name, ''), status, checked_in_at, COALESCE(checked_in_by, ''), created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*Ticket, error) {
	var t Ticket
	var checkedInAt sql.NullTime
	err := row.Scan(&t.ID, &t.Number, &t.EventID, &t.TierID, &t.OrganizerID,
		&t.PaymentReference, &t.AttendeeName, &t.Status, &checkedInAt, &t.CheckedInBy, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if checkedInAt.Valid {
		t.CheckedInAt = &checkedInAt.Time
	}
	return &t, nil
}

func (p *PostgresStore) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	t, err := scanTicket(p.db.QueryRowContext(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, ErrTicketNotFound
	}
	return t, err
}

func (p *PostgresStore) GetByNumber(ctx context.Context, number string) (*Ticket, error) {
	t, err := scanTicket(p.db.QueryRowContext(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE number = $1
	`, number))
	if err == sql.ErrNoRows {
		return nil, ErrTicketNotFound
	}
	return t, err
}

func (p *PostgresStore) ListByPayment(ctx context.Context, reference string) ([]*Ticket, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE payment_reference = $1 ORDER BY created_at, id
	`, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CheckIn(ctx context.Context, ticketID, eventID, agentCodeID string, now time.Time) (*Ticket, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tickets
		SET status = 'CHECKED_IN', checked_in_at = $3, checked_in_by = NULLIF($4, '')
		WHERE id = $1 AND event_id = $2 AND status = 'ACTIVE'
	`, ticketID, eventID, now, agentCodeID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Lost the race or never eligible; reload to say which.
		t, err := p.GetTicket(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		if t.EventID != eventID {
			return nil, ErrEventMismatch
		}
		return nil, StatusError(t.Status)
	}

	if agentCodeID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE agent_codes
			SET activated_at = COALESCE(activated_at, $2),
			    last_used_at = $2,
			    check_in_count = check_in_count + 1
			WHERE id = $1
		`, agentCodeID, now)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p.GetTicket(ctx, ticketID)
}

// MarkRefundedTx flips an ACTIVE ticket to REFUNDED inside a caller-owned
// transaction; refund processing uses it.
func MarkRefundedTx(ctx context.Context, tx *sql.Tx, ticketID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE tickets SET status = 'REFUNDED' WHERE id = $1 AND status = 'ACTIVE'
	`, ticketID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var status Status
		err := tx.QueryRowContext(ctx, `SELECT status FROM tickets WHERE id = $1`, ticketID).Scan(&status)
		if err == sql.ErrNoRows {
			return ErrTicketNotFound
		}
		if err != nil {
			return err
		}
		return StatusError(status)
	}
	return nil
}

func (p *PostgresStore) MarkRefunded(ctx context.Context, ticketID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := MarkRefundedTx(ctx, tx, ticketID); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) CountIssued(ctx context.Context, tierID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tickets WHERE tier_id = $1
	`, tierID).Scan(&count)
	return count, err
}

func (p *PostgresStore) CreateAgentCode(ctx context.Context, code *AgentCode) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO agent_codes (id, event_id, code, label, active, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
	`, code.ID, code.EventID, code.Code, code.Label, code.Active, code.CreatedAt)
	return err
}

const agentCodeColumns = `id, event_id, code, COALESCE(label, ''), active,
	activated_at, last_used_at, check_in_count, created_at`

func scanAgentCode(row rowScanner) (*AgentCode, error) {
	var c AgentCode
	var activatedAt, lastUsedAt sql.NullTime
	err := row.Scan(&c.ID, &c.EventID, &c.Code, &c.Label, &c.Active,
		&activatedAt, &lastUsedAt, &c.CheckInCount, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if activatedAt.Valid {
		c.ActivatedAt = &activatedAt.Time
	}
	if lastUsedAt.Valid {
		c.LastUsedAt = &lastUsedAt.Time
	}
	return &c, nil
}

func (p *PostgresStore) GetAgentCode(ctx context.Context, id string) (*AgentCode, error) {
	c, err := scanAgentCode(p.db.QueryRowContext(ctx, `
		SELECT `+agentCodeColumns+` FROM agent_codes WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, ErrAgentCodeNotFound
	}
	return c, err
}

func (p *PostgresStore) FindAgentCode(ctx context.Context, eventID, code string) (*AgentCode, error) {
	c, err := scanAgentCode(p.db.QueryRowContext(ctx, `
		SELECT `+agentCodeColumns+` FROM agent_codes WHERE event_id = $1 AND code = $2
	`, eventID, code))
	if err == sql.ErrNoRows {
		return nil, ErrAgentCodeNotFound
	}
	return c, err
}

func (p *PostgresStore) ListAgentCodes(ctx context.Context, eventID string) ([]*AgentCode, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+agentCodeColumns+` FROM agent_codes WHERE event_id = $1 ORDER BY created_at
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AgentCode
	for rows.Next() {
		c, err := scanAgentCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DeactivateAgentCode(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE agent_codes SET active = FALSE WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAgentCodeNotFound
	}
	return nil
}

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Oltking/hdticketdesk-sub002/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
//
// Every append runs in a serializable transaction that locks the organizer's
// balance row, inserts the entry with balance snapshots, and updates the
// cached row. CHECK constraints keep every bucket non-negative at the
// database level, so no interleaving can overdraw an organizer.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables. Production deployments use the goose
// migrations under migrations/; this keeps dev databases bootstrapped.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS organizer_balances (
			organizer_id  VARCHAR(64) PRIMARY KEY,
			pending       BIGINT NOT NULL DEFAULT 0,
			available     BIGINT NOT NULL DEFAULT 0,
			withdrawn     BIGINT NOT NULL DEFAULT 0,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT chk_pending_nonneg   CHECK (pending >= 0),
			CONSTRAINT chk_available_nonneg CHECK (available >= 0),
			CONSTRAINT chk_withdrawn_nonneg CHECK (withdrawn >= 0)
		);

		CREATE TABLE IF NOT EXISTS ledger_entries (
			id                    VARCHAR(36) PRIMARY KEY,
			seq                   BIGSERIAL UNIQUE,
			organizer_id          VARCHAR(64) NOT NULL,
			type                  VARCHAR(24) NOT NULL,
			amount                BIGINT NOT NULL CHECK (amount > 0),
			debit_bucket          VARCHAR(12),
			reference             VARCHAR(128),
			sale_reference        VARCHAR(128),
			related_ticket_id     VARCHAR(36),
			related_withdrawal_id VARCHAR(36),
			description           TEXT,
			pending_after         BIGINT NOT NULL,
			available_after       BIGINT NOT NULL,
			withdrawn_after       BIGINT NOT NULL,
			matures_at            TIMESTAMPTZ,
			created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		-- Maturity bookkeeping lives beside the entries so ledger rows are
		-- never rewritten. A sale is matured iff it has a row here.
		CREATE TABLE IF NOT EXISTS sale_maturations (
			sale_id    VARCHAR(36) PRIMARY KEY REFERENCES ledger_entries(id),
			matured_at TIMESTAMPTZ NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_sale_ref
			ON ledger_entries(reference) WHERE type = 'TICKET_SALE';
		CREATE INDEX IF NOT EXISTS idx_ledger_organizer ON ledger_entries(organizer_id, seq);
		CREATE INDEX IF NOT EXISTS idx_ledger_sale_matures
			ON ledger_entries(matures_at) WHERE type = 'TICKET_SALE';
	`)
	return err
}

// lockBalance upserts and locks the organizer's balance row inside tx.
func lockBalance(ctx context.Context, tx *sql.Tx, organizerID string, createIfMissing bool) (*Balance, error) {
	if createIfMissing {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO organizer_balances (organizer_id) VALUES ($1)
			ON CONFLICT (organizer_id) DO NOTHING
		`, organizerID); err != nil {
			return nil, err
		}
	}

	bal := &Balance{OrganizerID: organizerID}
	err := tx.QueryRowContext(ctx, `
		SELECT pending, available, withdrawn, updated_at
		FROM organizer_balances WHERE organizer_id = $1 FOR UPDATE
	`, organizerID).Scan(&bal.Pending, &bal.Available, &bal.Withdrawn, &bal.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrganizerNotFound
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// insertEntry writes the entry with balance snapshots and flushes the cached
// balance row. Caller must have already adjusted bal.
func insertEntry(ctx context.Context, tx *sql.Tx, bal *Balance, e *Entry) error {
	if e.ID == "" {
		e.ID = idgen.WithPrefix("le_")
	}
	e.PendingAfter = bal.Pending
	e.AvailableAfter = bal.Available
	e.WithdrawnAfter = bal.Withdrawn

	err := tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries
			(id, organizer_id, type, amount, debit_bucket, reference, sale_reference,
			 related_ticket_id, related_withdrawal_id, description,
			 pending_after, available_after, withdrawn_after, matures_at, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
			NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12, $13, $14, NOW())
		RETURNING seq, created_at
	`, e.ID, e.OrganizerID, e.Type, e.Amount, string(e.DebitBucket), e.Reference, e.SaleReference,
		e.RelatedTicketID, e.RelatedWithdrawalID, e.Description,
		e.PendingAfter, e.AvailableAfter, e.WithdrawnAfter, e.MaturesAt).Scan(&e.Seq, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE organizer_balances
		SET pending = $2, available = $3, withdrawn = $4, updated_at = NOW()
		WHERE organizer_id = $1
	`, e.OrganizerID, bal.Pending, bal.Available, bal.Withdrawn)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetBalance(ctx context.Context, organizerID string) (*Balance, error) {
	bal := &Balance{OrganizerID: organizerID}
	err := p.db.QueryRowContext(ctx, `
		SELECT pending, available, withdrawn, updated_at
		FROM organizer_balances WHERE organizer_id = $1
	`, organizerID).Scan(&bal.Pending, &bal.Available, &bal.Withdrawn, &bal.UpdatedAt)
	if err == sql.ErrNoRows {
		return &Balance{OrganizerID: organizerID, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// CreditSaleTx appends a TICKET_SALE entry inside a caller-owned transaction.
// The payment reconciler uses it to settle payment, tickets, and credit in a
// single atomic unit.
func CreditSaleTx(ctx context.Context, tx *sql.Tx, credit SaleCredit) (*Entry, error) {
	bal, err := lockBalance(ctx, tx, credit.OrganizerID, true)
	if err != nil {
		return nil, err
	}
	bal.Pending += credit.NetAmount

	maturesAt := credit.MaturesAt
	e := &Entry{
		OrganizerID:     credit.OrganizerID,
		Type:            TypeTicketSale,
		Amount:          credit.NetAmount,
		Reference:       credit.Reference,
		RelatedTicketID: credit.TicketID,
		Description:     credit.Description,
		MaturesAt:       &maturesAt,
	}
	if err := insertEntry(ctx, tx, bal, e); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation on the sale reference
			return nil, ErrDuplicateReference
		}
		return nil, err
	}
	return e, nil
}

func (p *PostgresStore) CreditSale(ctx context.Context, credit SaleCredit) (*Entry, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	e, err := CreditSaleTx(ctx, tx, credit)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *PostgresStore) DebitWithdrawal(ctx context.Context, organizerID string, amount int64, withdrawalID string) (*Entry, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	bal, err := lockBalance(ctx, tx, organizerID, false)
	if err != nil {
		return nil, err
	}
	if bal.Available < amount {
		return nil, ErrInsufficientBalance
	}
	bal.Available -= amount
	bal.Withdrawn += amount

	e := &Entry{
		OrganizerID:         organizerID,
		Type:                TypeWithdrawal,
		Amount:              amount,
		Reference:           withdrawalID,
		RelatedWithdrawalID: withdrawalID,
		Description:         "withdrawal confirmed",
	}
	if err := insertEntry(ctx, tx, bal, e); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *PostgresStore) ReverseWithdrawal(ctx context.Context, organizerID string, amount int64, withdrawalID, reason string) (*Entry, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	bal, err := lockBalance(ctx, tx, organizerID, false)
	if err != nil {
		return nil, err
	}
	bal.Withdrawn -= amount
	bal.Available += amount

	e := &Entry{
		OrganizerID:         organizerID,
		Type:                TypeWithdrawalReversal,
		Amount:              amount,
		Reference:           withdrawalID,
		RelatedWithdrawalID: withdrawalID,
		Description:         reason,
	}
	if err := insertEntry(ctx, tx, bal, e); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}

// saleForUpdate loads and locks the TICKET_SALE entry row for a reference.
// The row lock serializes bucket selection against maturation; the entry
// itself is never written.
func saleForUpdate(ctx context.Context, tx *sql.Tx, reference string) (*Entry, error) {
	var e Entry
	var maturedAt sql.NullTime
	err := tx.QueryRowContext(ctx, `
		SELECT s.id, s.organizer_id, s.amount, m.matured_at
		FROM ledger_entries s
		LEFT JOIN sale_maturations m ON m.sale_id = s.id
		WHERE s.type = 'TICKET_SALE' AND s.reference = $1
		FOR UPDATE OF s
	`, reference).Scan(&e.ID, &e.OrganizerID, &e.Amount, &maturedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSaleNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Type = TypeTicketSale
	e.Reference = reference
	if maturedAt.Valid {
		e.MaturedAt = &maturedAt.Time
	}
	return &e, nil
}

func debitSaleTx(ctx context.Context, tx *sql.Tx, entryType EntryType, organizerID string, amount int64, saleReference, ticketID, reference, description string) (*Entry, error) {
	sale, err := saleForUpdate(ctx, tx, saleReference)
	if err != nil {
		return nil, err
	}
	if sale.OrganizerID != organizerID {
		return nil, ErrSaleNotFound
	}

	bal, err := lockBalance(ctx, tx, organizerID, false)
	if err != nil {
		return nil, err
	}

	bucket := BucketAvailable
	if sale.MaturedAt == nil {
		bucket = BucketPending
	}

	switch bucket {
	case BucketPending:
		if bal.Pending < amount {
			return nil, ErrInsufficientBalance
		}
		bal.Pending -= amount
	case BucketAvailable:
		if bal.Available < amount {
			return nil, ErrInsufficientBalance
		}
		bal.Available -= amount
	}

	e := &Entry{
		OrganizerID:     organizerID,
		Type:            entryType,
		Amount:          amount,
		DebitBucket:     bucket,
		Reference:       reference,
		SaleReference:   saleReference,
		RelatedTicketID: ticketID,
		Description:     description,
	}
	if err := insertEntry(ctx, tx, bal, e); err != nil {
		return nil, err
	}
	return e, nil
}

// DebitRefundTx appends a REFUND entry inside a caller-owned transaction so
// refund processing can flip payment, ticket, and ledger together.
func DebitRefundTx(ctx context.Context, tx *sql.Tx, organizerID string, amount int64, saleReference, ticketID, refundID string) (*Entry, error) {
	return debitSaleTx(ctx, tx, TypeRefund, organizerID, amount, saleReference, ticketID, refundID, "refund processed")
}

func (p *PostgresStore) debitSale(ctx context.Context, entryType EntryType, organizerID string, amount int64, saleReference, ticketID, reference, description string) (*Entry, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	e, err := debitSaleTx(ctx, tx, entryType, organizerID, amount, saleReference, ticketID, reference, description)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *PostgresStore) DebitRefund(ctx context.Context, organizerID string, amount int64, saleReference, ticketID, refundID string) (*Entry, error) {
	return p.debitSale(ctx, TypeRefund, organizerID, amount, saleReference, ticketID, refundID, "refund processed")
}

func (p *PostgresStore) Chargeback(ctx context.Context, organizerID string, amount int64, saleReference, reason string) (*Entry, error) {
	return p.debitSale(ctx, TypeChargeback, organizerID, amount, saleReference, "", idgen.WithPrefix("cb_"), reason)
}

// MatureDue runs one transaction per organizer so a conflict on one
// organizer's rows doesn't abort the whole pass.
func (p *PostgresStore) MatureDue(ctx context.Context, now time.Time) ([]MaturedBatch, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT organizer_id FROM ledger_entries s
		WHERE s.type = 'TICKET_SALE' AND s.matures_at <= $1
		  AND NOT EXISTS (SELECT 1 FROM sale_maturations m WHERE m.sale_id = s.id)
	`, now)
	if err != nil {
		return nil, err
	}
	organizers, err := scanStrings(rows)
	if err != nil {
		return nil, err
	}

	var batches []MaturedBatch
	var firstErr error
	for _, org := range organizers {
		batch, err := p.matureOrganizer(ctx, org, now)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("mature %s: %w", org, err)
			}
			continue
		}
		if batch != nil {
			batches = append(batches, *batch)
		}
	}
	return batches, firstErr
}

func (p *PostgresStore) matureOrganizer(ctx context.Context, organizerID string, now time.Time) (*MaturedBatch, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	bal, err := lockBalance(ctx, tx, organizerID, false)
	if err != nil {
		return nil, err
	}

	// Each due sale matures for its amount minus whatever was already
	// refunded out of pending against it.
	rows, err := tx.QueryContext(ctx, `
		SELECT s.id, s.amount - COALESCE((
			SELECT SUM(d.amount) FROM ledger_entries d
			WHERE d.sale_reference = s.reference
			  AND d.type IN ('REFUND', 'CHARGEBACK')
			  AND d.debit_bucket = 'pending'
		), 0)
		FROM ledger_entries s
		WHERE s.organizer_id = $1 AND s.type = 'TICKET_SALE'
		  AND s.matures_at <= $2
		  AND NOT EXISTS (SELECT 1 FROM sale_maturations m WHERE m.sale_id = s.id)
		FOR UPDATE OF s
	`, organizerID, now)
	if err != nil {
		return nil, err
	}

	var saleIDs []string
	var total int64
	for rows.Next() {
		var id string
		var remaining int64
		if err := rows.Scan(&id, &remaining); err != nil {
			rows.Close()
			return nil, err
		}
		saleIDs = append(saleIDs, id)
		if remaining > 0 {
			total += remaining
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(saleIDs) == 0 {
		return nil, nil
	}

	// Recording maturity is an insert, never an update of the entries.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sale_maturations (sale_id, matured_at)
		SELECT unnest($1::varchar[]), $2
	`, pq.Array(saleIDs), now); err != nil {
		return nil, err
	}

	if total > 0 {
		bal.Pending -= total
		bal.Available += total
		e := &Entry{
			OrganizerID: organizerID,
			Type:        TypeMaturation,
			Amount:      total,
			Description: "sale credits matured",
		}
		if err := insertEntry(ctx, tx, bal, e); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if total <= 0 {
		return nil, nil
	}
	return &MaturedBatch{OrganizerID: organizerID, Amount: total, Sales: len(saleIDs)}, nil
}

func (p *PostgresStore) FindSale(ctx context.Context, reference string) (*Entry, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries WHERE type = 'TICKET_SALE' AND reference = $1
	`, reference)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrSaleNotFound
	}
	return e, err
}

// FindWithdrawal scans the entries recorded against a withdrawal id: the
// WITHDRAWAL debit and, when the payout was compensated, its reversal.
func (p *PostgresStore) FindWithdrawal(ctx context.Context, withdrawalID string) (*Entry, bool, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries WHERE related_withdrawal_id = $1 ORDER BY seq
	`, withdrawalID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var debit *Entry
	reversed := false
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, false, err
		}
		switch e.Type {
		case TypeWithdrawal:
			debit = e
		case TypeWithdrawalReversal:
			reversed = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if debit == nil {
		return nil, false, ErrEntryNotFound
	}
	return debit, reversed, nil
}

// matured_at is derived from the side table so every read path reports it
// without the entry row ever carrying it.
const entryColumns = `id, seq, organizer_id, type, amount,
	COALESCE(debit_bucket, ''), COALESCE(reference, ''), COALESCE(sale_reference, ''),
	COALESCE(related_ticket_id, ''), COALESCE(related_withdrawal_id, ''), COALESCE(description, ''),
	pending_after, available_after, withdrawn_after, matures_at,
	(SELECT m.matured_at FROM sale_maturations m WHERE m.sale_id = ledger_entries.id),
	created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var bucket string
	var maturesAt, maturedAt sql.NullTime
	err := row.Scan(&e.ID, &e.Seq, &e.OrganizerID, &e.Type, &e.Amount,
		&bucket, &e.Reference, &e.SaleReference,
		&e.RelatedTicketID, &e.RelatedWithdrawalID, &e.Description,
		&e.PendingAfter, &e.AvailableAfter, &e.WithdrawnAfter, &maturesAt, &maturedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.DebitBucket = Bucket(bucket)
	if maturesAt.Valid {
		e.MaturesAt = &maturesAt.Time
	}
	if maturedAt.Valid {
		e.MaturedAt = &maturedAt.Time
	}
	return &e, nil
}

func (p *PostgresStore) ListEntries(ctx context.Context, organizerID string, afterSeq int64, limit int) ([]*Entry, int, error) {
	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger_entries WHERE organizer_id = $1
	`, organizerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE organizer_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3
	`, organizerID, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func (p *PostgresStore) AllEntries(ctx context.Context, organizerID string) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries WHERE organizer_id = $1 ORDER BY seq
	`, organizerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) Organizers(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT organizer_id FROM ledger_entries ORDER BY organizer_id
	`)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

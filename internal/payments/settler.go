package payments

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Oltking/hdticketdesk-sub002/internal/ledger"
	"github.com/Oltking/hdticketdesk-sub002/internal/tickets"
)

// MemorySettler composes the in-memory stores. The payment status flip acts
// as the commit point: it happens first and is reverted if a later step
// fails, which is enough exactly-once protection for dev mode and tests.
type MemorySettler struct {
	Payments *MemoryStore
	Tickets  *tickets.MemoryStore
	Ledger   *ledger.Ledger
}

func (m *MemorySettler) SettleSuccess(ctx context.Context, reference string, s Settlement, issue tickets.Issue, credit ledger.SaleCredit) ([]*tickets.Ticket, *ledger.Entry, error) {
	if err := m.Payments.settle(reference, s); err != nil {
		return nil, nil, err
	}

	issued := issue.Build()
	credit.TicketID = issued[0].ID
	if err := m.Tickets.InsertTickets(ctx, issued); err != nil {
		m.Payments.revert(reference)
		return nil, nil, err
	}

	entry, err := m.Ledger.CreditSale(ctx, credit)
	if err != nil {
		m.Payments.revert(reference)
		return nil, nil, err
	}
	return issued, entry, nil
}

// PostgresSettler runs the settlement as one serializable transaction across
// the payments, tickets, and ledger tables.
type PostgresSettler struct {
	db *sql.DB
}

// NewPostgresSettler creates a settler over the shared database handle.
func NewPostgresSettler(db *sql.DB) *PostgresSettler {
	return &PostgresSettler{db: db}
}

func (p *PostgresSettler) SettleSuccess(ctx context.Context, reference string, s Settlement, issue tickets.Issue, credit ledger.SaleCredit) ([]*tickets.Ticket, *ledger.Entry, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	// Conditional flip is the idempotency gate: zero rows means a concurrent
	// verify already settled this reference.
	res, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET status = 'SUCCESS', paid_amount = $2, fee_amount = $3, net_amount = $4,
		    transaction_ref = $5, verified_at = $6, review_required = FALSE,
		    review_reason = NULL, updated_at = NOW()
		WHERE reference = $1 AND status = 'PENDING'
	`, reference, s.PaidAmount, s.FeeAmount, s.NetAmount, s.TransactionRef, s.VerifiedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to mark payment success: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, nil, err
	}
	if affected == 0 {
		return nil, nil, ErrAlreadySettled
	}

	issued := issue.Build()
	credit.TicketID = issued[0].ID
	if err := tickets.InsertTicketsTx(ctx, tx, issued); err != nil {
		return nil, nil, fmt.Errorf("failed to insert tickets: %w", err)
	}

	entry, err := ledger.CreditSaleTx(ctx, tx, credit)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return issued, entry, nil
}

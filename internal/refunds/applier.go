package refunds

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Oltking/hdticketdesk-sub002/internal/ledger"
	"github.com/Oltking/hdticketdesk-sub002/internal/payments"
	"github.com/Oltking/hdticketdesk-sub002/internal/tickets"
)

// Application is the money-moving half of processing a refund: flip the
// payment and ticket to REFUNDED and debit the organizer's ledger. The
// gateway reversal has already happened when an Application runs.
type Application struct {
	PaymentReference string
	TicketID         string
	OrganizerID      string
	LedgerAmount     int64 // net share the organizer gives back
	RefundID         string
}

// Applier executes an Application as one atomic unit.
type Applier interface {
	Apply(ctx context.Context, a Application) error
}

// MemoryApplier composes the in-memory stores sequentially. Good enough for
// dev mode and tests; the Postgres applier is the transactional one.
type MemoryApplier struct {
	Payments *payments.MemoryStore
	Tickets  *tickets.MemoryStore
	Ledger   *ledger.Ledger
}

func (m *MemoryApplier) Apply(ctx context.Context, a Application) error {
	// A multi-ticket payment is flipped by its first refunded ticket; later
	// tickets of the same payment find it REFUNDED already.
	p, err := m.Payments.Get(ctx, a.PaymentReference)
	if err != nil {
		return err
	}
	if p.Status == payments.StatusSuccess {
		if err := m.Payments.MarkRefunded(ctx, a.PaymentReference); err != nil {
			return err
		}
	}

	if err := m.Tickets.MarkRefunded(ctx, a.TicketID); err != nil {
		return err
	}

	_, err = m.Ledger.DebitRefund(ctx, a.OrganizerID, a.LedgerAmount,
		a.PaymentReference, a.TicketID, a.RefundID)
	return err
}

// PostgresApplier runs the application as one serializable transaction
// across the payments, tickets, and ledger tables.
type PostgresApplier struct {
	db *sql.DB
}

// NewPostgresApplier creates an applier over the shared database handle.
func NewPostgresApplier(db *sql.DB) *PostgresApplier {
	return &PostgresApplier{db: db}
}

func (p *PostgresApplier) Apply(ctx context.Context, a Application) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// REFUNDED is accepted so the second ticket of a multi-ticket payment
	// can still be refunded after the first flipped the payment.
	res, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = 'REFUNDED', updated_at = NOW()
		WHERE reference = $1 AND status IN ('SUCCESS', 'REFUNDED')
	`, a.PaymentReference)
	if err != nil {
		return fmt.Errorf("failed to mark payment refunded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return payments.ErrPaymentNotFound
	}

	if err := tickets.MarkRefundedTx(ctx, tx, a.TicketID); err != nil {
		return err
	}

	if _, err := ledger.DebitRefundTx(ctx, tx, a.OrganizerID, a.LedgerAmount,
		a.PaymentReference, a.TicketID, a.RefundID); err != nil {
		return err
	}

	return tx.Commit()
}

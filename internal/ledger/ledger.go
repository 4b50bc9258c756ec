// Package ledger tracks organizer balances as a fold over an append-only
// entry stream.
//
// Flow:
//  1. A verified payment credits the organizer's pending balance (TICKET_SALE)
//  2. After the maturation window the credit moves pending → available (MATURATION)
//  3. A confirmed withdrawal moves available → withdrawn (WITHDRAWAL)
//  4. A failed payout is compensated back (WITHDRAWAL_REVERSAL)
//  5. A processed refund debits whichever bucket the sale credit sits in (REFUND)
//
// Entries are never updated or deleted; corrections are new entries. Every
// entry stores the three balance snapshots taken after it was applied, so
// replaying an organizer's entries in order must reproduce each snapshot
// exactly. That replay is the ground truth the cached balance row is verified
// against.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOrganizerNotFound   = errors.New("organizer not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrSaleNotFound        = errors.New("sale entry not found")
	ErrEntryNotFound       = errors.New("ledger entry not found")
	ErrDuplicateReference  = errors.New("sale already recorded for reference")
)

// EntryType tags the monetary event an entry records.
type EntryType string

const (
	TypeTicketSale         EntryType = "TICKET_SALE"
	TypeMaturation         EntryType = "MATURATION"
	TypeWithdrawal         EntryType = "WITHDRAWAL"
	TypeWithdrawalReversal EntryType = "WITHDRAWAL_REVERSAL"
	TypeRefund             EntryType = "REFUND"
	TypeChargeback         EntryType = "CHARGEBACK"
)

// Bucket names one of the three balance buckets.
type Bucket string

const (
	BucketPending   Bucket = "pending"
	BucketAvailable Bucket = "available"
	BucketWithdrawn Bucket = "withdrawn"
)

// Entry is one immutable row in the ledger. Amount is always positive; the
// type determines direction. For REFUND and CHARGEBACK entries DebitBucket
// records which bucket was debited, since a sale can be reversed before or
// after maturation.
type Entry struct {
	ID                  string     `json:"id"`
	Seq                 int64      `json:"-"`
	OrganizerID         string     `json:"organizerId"`
	Type                EntryType  `json:"type"`
	Amount              int64      `json:"amount"`
	DebitBucket         Bucket     `json:"debitBucket,omitempty"`
	Reference           string     `json:"reference,omitempty"`     // payment reference, withdrawal id, or refund id
	SaleReference       string     `json:"saleReference,omitempty"` // REFUND/CHARGEBACK: the sale being reversed
	RelatedTicketID     string     `json:"relatedTicketId,omitempty"`
	RelatedWithdrawalID string     `json:"relatedWithdrawalId,omitempty"`
	Description         string     `json:"description,omitempty"`
	PendingAfter        int64      `json:"pendingBalanceAfter"`
	AvailableAfter      int64      `json:"availableBalanceAfter"`
	WithdrawnAfter      int64      `json:"withdrawnBalanceAfter"`
	MaturesAt           *time.Time `json:"maturesAt,omitempty"` // TICKET_SALE only
	MaturedAt           *time.Time `json:"maturedAt,omitempty"` // derived at read time from the maturity record
	CreatedAt           time.Time  `json:"createdAt"`
}

// Balance is the cached three-bucket view of an organizer. It is maintained
// in the same transaction as every append and must always be reconstructible
// from the entry stream.
type Balance struct {
	OrganizerID string    `json:"organizerId"`
	Pending     int64     `json:"pending"`
	Available   int64     `json:"available"`
	Withdrawn   int64     `json:"withdrawn"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Withdrawable is the amount an organizer may request right now.
func (b *Balance) Withdrawable() int64 { return b.Available }

// SaleCredit describes a TICKET_SALE append.
type SaleCredit struct {
	OrganizerID string
	NetAmount   int64  // amount after the platform fee
	Reference   string // payment reference; unique per sale entry
	TicketID    string // first ticket of the payment, for traceability
	Description string
	MaturesAt   time.Time
}

// MaturedBatch reports one organizer's pending → available move.
type MaturedBatch struct {
	OrganizerID string `json:"organizerId"`
	Amount      int64  `json:"amount"`
	Sales       int    `json:"sales"`
}

// Store persists ledger data. Every mutating call appends exactly one entry
// and updates the cached balance row in the same atomic unit, serialized
// per organizer.
type Store interface {
	GetBalance(ctx context.Context, organizerID string) (*Balance, error)

	// CreditSale appends a TICKET_SALE entry crediting pending. Fails with
	// ErrDuplicateReference if a sale entry already exists for the reference.
	CreditSale(ctx context.Context, credit SaleCredit) (*Entry, error)

	// DebitWithdrawal moves amount available → withdrawn. Fails with
	// ErrInsufficientBalance when available is too low at append time.
	DebitWithdrawal(ctx context.Context, organizerID string, amount int64, withdrawalID string) (*Entry, error)

	// ReverseWithdrawal compensates a failed payout, moving amount
	// withdrawn → available.
	ReverseWithdrawal(ctx context.Context, organizerID string, amount int64, withdrawalID, reason string) (*Entry, error)

	// DebitRefund debits amount from the bucket the sale credit currently
	// occupies (pending before maturation, available after) and records the
	// bucket on the entry. saleReference identifies the TICKET_SALE entry.
	DebitRefund(ctx context.Context, organizerID string, amount int64, saleReference, ticketID, refundID string) (*Entry, error)

	// Chargeback debits available (or pending when the sale has not matured)
	// as an operator correction.
	Chargeback(ctx context.Context, organizerID string, amount int64, saleReference, reason string) (*Entry, error)

	// MatureDue moves every unmatured TICKET_SALE credit whose maturity has
	// passed into available, one MATURATION entry per organizer.
	MatureDue(ctx context.Context, now time.Time) ([]MaturedBatch, error)

	// FindSale returns the TICKET_SALE entry for a payment reference.
	FindSale(ctx context.Context, reference string) (*Entry, error)

	// FindWithdrawal returns the WITHDRAWAL entry for a withdrawal id, or
	// ErrEntryNotFound when the debit was never recorded. reversed reports
	// whether a compensating WITHDRAWAL_REVERSAL already exists.
	FindWithdrawal(ctx context.Context, withdrawalID string) (entry *Entry, reversed bool, err error)

	// ListEntries pages an organizer's entries, oldest first, starting after
	// the cursor sequence. Returns up to limit entries and the total count.
	ListEntries(ctx context.Context, organizerID string, afterSeq int64, limit int) ([]*Entry, int, error)

	// AllEntries returns every entry for an organizer in append order (replay).
	AllEntries(ctx context.Context, organizerID string) ([]*Entry, error)

	// Organizers lists every organizer with at least one entry.
	Organizers(ctx context.Context) ([]string, error)
}

// Ledger wraps a Store with amount validation.
type Ledger struct {
	store Store
}

// New creates a ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Balance returns an organizer's cached balance.
func (l *Ledger) Balance(ctx context.Context, organizerID string) (*Balance, error) {
	return l.store.GetBalance(ctx, organizerID)
}

// CreditSale records a verified sale.
func (l *Ledger) CreditSale(ctx context.Context, credit SaleCredit) (*Entry, error) {
	if credit.NetAmount <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.store.CreditSale(ctx, credit)
}

// DebitWithdrawal records a confirmed withdrawal debit.
func (l *Ledger) DebitWithdrawal(ctx context.Context, organizerID string, amount int64, withdrawalID string) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.store.DebitWithdrawal(ctx, organizerID, amount, withdrawalID)
}

// ReverseWithdrawal compensates a failed payout.
func (l *Ledger) ReverseWithdrawal(ctx context.Context, organizerID string, amount int64, withdrawalID, reason string) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.store.ReverseWithdrawal(ctx, organizerID, amount, withdrawalID, reason)
}

// DebitRefund records a processed refund.
func (l *Ledger) DebitRefund(ctx context.Context, organizerID string, amount int64, saleReference, ticketID, refundID string) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.store.DebitRefund(ctx, organizerID, amount, saleReference, ticketID, refundID)
}

// Chargeback records an operator correction against a sale.
func (l *Ledger) Chargeback(ctx context.Context, organizerID string, amount int64, saleReference, reason string) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.store.Chargeback(ctx, organizerID, amount, saleReference, reason)
}

// MatureDue runs one maturation pass.
func (l *Ledger) MatureDue(ctx context.Context, now time.Time) ([]MaturedBatch, error) {
	return l.store.MatureDue(ctx, now)
}

// FindSale looks up the sale entry for a payment reference.
func (l *Ledger) FindSale(ctx context.Context, reference string) (*Entry, error) {
	return l.store.FindSale(ctx, reference)
}

// FindWithdrawal reports whether a withdrawal's debit was recorded and
// whether it has already been compensated.
func (l *Ledger) FindWithdrawal(ctx context.Context, withdrawalID string) (*Entry, bool, error) {
	return l.store.FindWithdrawal(ctx, withdrawalID)
}

// History pages an organizer's entries, oldest first.
func (l *Ledger) History(ctx context.Context, organizerID string, afterSeq int64, limit int) ([]*Entry, int, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.ListEntries(ctx, organizerID, afterSeq, limit)
}

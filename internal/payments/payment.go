// Package payments owns the payment lifecycle: checkout initiation, gateway
// verification, and settlement into tickets and the ledger.
//
// Verification is idempotent by reference. Webhook delivery, user polling,
// the pending sweep, and admin bulk verification all converge on the same
// Verify path, so calling it N times for one reference settles exactly once.
package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Oltking/hdticketdesk-sub002/internal/idgen"
)

var (
	ErrPaymentNotFound = errors.New("payments: payment not found")
	ErrPaymentExists   = errors.New("payments: reference already exists")
	ErrAlreadySettled  = errors.New("payments: payment already settled")
	ErrSoldOut         = errors.New("payments: tier sold out")
	ErrInvalidQuantity = errors.New("payments: invalid quantity")
	ErrAmountMismatch  = errors.New("payments: gateway amount does not match expected amount")
)

// Status is the lifecycle state of a payment.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusRefunded Status = "REFUNDED"
)

// Terminal reports whether no further verification can change the status.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusRefunded
}

// Payment is one checkout attempt, keyed by its gateway reference.
type Payment struct {
	Reference      string     `json:"reference"`
	OrganizerID    string     `json:"organizerId"`
	EventID        string     `json:"eventId"`
	TierID         string     `json:"tierId"`
	Quantity       int        `json:"quantity"`
	Amount         int64      `json:"amount"` // expected total, minor units
	PaidAmount     int64      `json:"paidAmount,omitempty"`
	FeeAmount      int64      `json:"feeAmount,omitempty"`
	NetAmount      int64      `json:"netAmount,omitempty"`
	BuyerEmail     string     `json:"buyerEmail,omitempty"`
	AttendeeName   string     `json:"attendeeName,omitempty"`
	Status         Status     `json:"status"`
	ReviewRequired bool       `json:"reviewRequired,omitempty"`
	ReviewReason   string     `json:"reviewReason,omitempty"`
	TransactionRef string     `json:"transactionRef,omitempty"`
	VerifiedAt     *time.Time `json:"verifiedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// NewReference generates a payment reference. This is the key the gateway
// echoes back on webhooks.
func NewReference() string {
	return "PAY-" + strings.ToUpper(idgen.Hex(6))
}

// Settlement carries the values Verify derives from a successful charge.
type Settlement struct {
	PaidAmount     int64
	FeeAmount      int64
	NetAmount      int64
	TransactionRef string
	VerifiedAt     time.Time
}

// Store persists payments.
type Store interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, reference string) (*Payment, error)

	// MarkFailed flips a PENDING payment to FAILED (terminal).
	MarkFailed(ctx context.Context, reference, reason string) error

	// MarkRefunded flips a SUCCESS payment to REFUNDED.
	MarkRefunded(ctx context.Context, reference string) error

	// FlagReview marks a payment for manual review without changing status,
	// recording what the gateway actually reported.
	FlagReview(ctx context.Context, reference, reason string, paidAmount int64) error

	// ListPending returns PENDING payments created before the cutoff,
	// excluding review-flagged ones, oldest first.
	ListPending(ctx context.Context, before time.Time, limit int) ([]*Payment, error)
}

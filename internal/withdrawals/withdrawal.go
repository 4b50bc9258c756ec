// Package withdrawals runs the organizer payout workflow.
//
// A withdrawal is a small state machine guarded by a one-time code:
// PENDING_OTP moves to PROCESSING only on a correct code, PROCESSING
// moves to COMPLETED or FAILED depending on the gateway payout. Money
// leaves the ledger exactly once, at the PENDING_OTP to PROCESSING
// transition, and a failed payout is compensated with a reversal entry.
// A withdrawal stranded in PROCESSING by a crash is settled later by the
// sweeper from the gateway's transfer record.
package withdrawals

import (
	"context"
	"errors"
	"time"
)

// Status is a withdrawal's position in the state machine.
type Status string

const (
	StatusPendingOTP Status = "PENDING_OTP"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

var (
	ErrWithdrawalNotFound  = errors.New("withdrawal not found")
	ErrInvalidState        = errors.New("withdrawal is not awaiting confirmation")
	ErrBelowMinimum        = errors.New("amount is below the minimum withdrawal")
	ErrOtpInvalid          = errors.New("incorrect confirmation code")
	ErrOtpExpired          = errors.New("confirmation code has expired")
	ErrOtpAttemptsExceeded = errors.New("too many incorrect confirmation attempts")
	ErrPayoutFailed        = errors.New("payout rejected by gateway")
)

// Withdrawal is one organizer payout attempt. OTPCode never leaves the
// server; it is delivered to the organizer out of band.
type Withdrawal struct {
	ID            string     `json:"id"`
	OrganizerID   string     `json:"organizerId"`
	Amount        int64      `json:"amount"`
	Status        Status     `json:"status"`
	OTPCode       string     `json:"-"`
	OTPExpiresAt  time.Time  `json:"otpExpiresAt"`
	OTPAttempts   int        `json:"otpAttempts"`
	BankCode      string     `json:"bankCode,omitempty"`
	AccountNumber string     `json:"accountNumber,omitempty"`
	AccountName   string     `json:"accountName,omitempty"`
	TransferRef   string     `json:"transferRef,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Store persists withdrawals. State transitions are conditional on the
// current status so that concurrent confirms cannot both move money.
type Store interface {
	Create(ctx context.Context, w *Withdrawal) error
	Get(ctx context.Context, id string) (*Withdrawal, error)

	// IncrementAttempts bumps the attempt counter of a withdrawal still in
	// PENDING_OTP and returns the new count.
	IncrementAttempts(ctx context.Context, id string) (int, error)

	// MarkProcessing moves PENDING_OTP to PROCESSING. Exactly one caller
	// wins; losers get ErrInvalidState.
	MarkProcessing(ctx context.Context, id string) error

	// Complete moves PROCESSING to COMPLETED and records the transfer ref.
	Complete(ctx context.Context, id, transferRef string, at time.Time) error

	// Fail moves a non-terminal withdrawal to FAILED with a reason.
	Fail(ctx context.Context, id, reason string, at time.Time) error

	// ListByOrganizer returns an organizer's withdrawals, newest first.
	ListByOrganizer(ctx context.Context, organizerID string, limit int) ([]*Withdrawal, error)

	// ListProcessing returns withdrawals sitting in PROCESSING whose last
	// update is older than the cutoff, oldest first.
	ListProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*Withdrawal, error)
}

// Package refunds runs the ticket refund workflow.
//
// A refund request moves PENDING to APPROVED to PROCESSING to PROCESSED,
// or PENDING to REJECTED. Money moves only at processing: the request is
// claimed (PROCESSING) so exactly one processor reaches the gateway, the
// gateway reverses the buyer's charge, then one atomic unit flips the
// payment and ticket to REFUNDED and debits the organizer's ledger from
// whichever bucket the original sale credit currently sits in.
package refunds

import (
	"context"
	"errors"
	"time"
)

// Status is a refund request's position in the state machine.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
)

var (
	ErrRefundNotFound    = errors.New("refund request not found")
	ErrInvalidState      = errors.New("refund request is not in the required state")
	ErrNotRefundable     = errors.New("ticket tier does not allow refunds")
	ErrOpenRequestExists = errors.New("ticket already has an open refund request")
	ErrNoteRequired      = errors.New("rejection requires a note")
	ErrReversalFailed    = errors.New("gateway refused to reverse the charge")
)

// RefundRequest tracks one ticket's refund. RefundAmount is the gross
// per-ticket price returned to the buyer; the organizer's ledger is debited
// the net share at processing time.
type RefundRequest struct {
	ID            string     `json:"id"`
	TicketID      string     `json:"ticketId"`
	RequesterID   string     `json:"requesterId"`
	Status        Status     `json:"status"`
	Reason        string     `json:"reason"`
	RejectionNote string     `json:"rejectionNote,omitempty"`
	RefundAmount  int64      `json:"refundAmount"`
	RefundRef     string     `json:"refundRef,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Store persists refund requests. Transitions are conditional on the
// current status so that double approvals or double processing cannot
// happen under concurrent admin action.
type Store interface {
	Create(ctx context.Context, r *RefundRequest) error
	Get(ctx context.Context, id string) (*RefundRequest, error)

	// Approve moves PENDING to APPROVED.
	Approve(ctx context.Context, id string, at time.Time) error

	// Reject moves PENDING to REJECTED and records the note.
	Reject(ctx context.Context, id, note string, at time.Time) error

	// MarkProcessing moves APPROVED to PROCESSING. Exactly one caller
	// wins the claim; losers get ErrInvalidState.
	MarkProcessing(ctx context.Context, id string) error

	// ReleaseProcessing moves PROCESSING back to APPROVED so the request
	// can be retried after a failed gateway reversal.
	ReleaseProcessing(ctx context.Context, id string) error

	// MarkProcessed moves PROCESSING to PROCESSED and records the gateway
	// refund reference.
	MarkProcessed(ctx context.Context, id, refundRef string, at time.Time) error

	// OpenForTicket reports whether the ticket has any non-REJECTED request.
	OpenForTicket(ctx context.Context, ticketID string) (bool, error)

	// ListByStatus returns requests in a state, oldest first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*RefundRequest, error)
}

// Package tickets manages issued tickets, check-in, and gate agent codes.
package tickets

import (
	"errors"
	"strings"
	"time"

	"github.com/Oltking/hdticketdesk-sub002/internal/idgen"
)

var (
	ErrTicketNotFound    = errors.New("tickets: ticket not found")
	ErrAlreadyCheckedIn  = errors.New("tickets: ticket already checked in")
	ErrTicketRefunded    = errors.New("tickets: ticket refunded")
	ErrTicketCancelled   = errors.New("tickets: ticket cancelled")
	ErrEventMismatch     = errors.New("tickets: ticket belongs to a different event")
	ErrNotActive         = errors.New("tickets: ticket is not active")
	ErrAgentCodeNotFound = errors.New("tickets: agent code not found")
	ErrAgentCodeInactive = errors.New("tickets: agent code inactive")
)

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCheckedIn Status = "CHECKED_IN"
	StatusRefunded  Status = "REFUNDED"
	StatusCancelled Status = "CANCELLED"
)

// Ticket is one admission right issued by a verified payment.
type Ticket struct {
	ID               string     `json:"id"`
	Number           string     `json:"number"` // QR payload
	EventID          string     `json:"eventId"`
	TierID           string     `json:"tierId"`
	OrganizerID      string     `json:"organizerId"`
	PaymentReference string     `json:"paymentReference"`
	AttendeeName     string     `json:"attendeeName,omitempty"`
	Status           Status     `json:"status"`
	CheckedInAt      *time.Time `json:"checkedInAt,omitempty"`
	CheckedInBy      string     `json:"checkedInBy,omitempty"` // agent code id; empty for staff console
	CreatedAt        time.Time  `json:"createdAt"`
}

// StatusError maps a non-ACTIVE status to its distinguishing error.
func StatusError(s Status) error {
	switch s {
	case StatusCheckedIn:
		return ErrAlreadyCheckedIn
	case StatusRefunded:
		return ErrTicketRefunded
	case StatusCancelled:
		return ErrTicketCancelled
	default:
		return ErrNotActive
	}
}

// NewNumber generates a ticket number; this is the value encoded in the QR.
func NewNumber() string {
	return "TKT-" + strings.ToUpper(idgen.Hex(5))
}

// Issue describes the tickets a verified payment produces.
type Issue struct {
	EventID          string
	TierID           string
	OrganizerID      string
	PaymentReference string
	AttendeeName     string
	Quantity         int
}

// Build constructs the ticket records for an issue. IDs and numbers are
// stamped here so settlement can reference them before insert.
func (i Issue) Build() []*Ticket {
	now := time.Now()
	out := make([]*Ticket, 0, i.Quantity)
	for n := 0; n < i.Quantity; n++ {
		out = append(out, &Ticket{
			ID:               idgen.WithPrefix("tkt_"),
			Number:           NewNumber(),
			EventID:          i.EventID,
			TierID:           i.TierID,
			OrganizerID:      i.OrganizerID,
			PaymentReference: i.PaymentReference,
			AttendeeName:     i.AttendeeName,
			Status:           StatusActive,
			CreatedAt:        now,
		})
	}
	return out
}

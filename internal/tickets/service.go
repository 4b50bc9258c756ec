package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store persists tickets and agent codes.
type Store interface {
	InsertTickets(ctx context.Context, ts []*Ticket) error
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	GetByNumber(ctx context.Context, number string) (*Ticket, error)
	ListByPayment(ctx context.Context, reference string) ([]*Ticket, error)

	// CheckIn flips the ticket ACTIVE → CHECKED_IN with a single conditional
	// update so exactly one concurrent attempt can win. When agentCodeID is
	// set the code's usage stats update in the same atomic unit. A ticket
	// that is not ACTIVE (or not found, or on another event) returns the
	// distinguishing sentinel error.
	CheckIn(ctx context.Context, ticketID, eventID, agentCodeID string, now time.Time) (*Ticket, error)

	// MarkRefunded flips an ACTIVE ticket to REFUNDED.
	MarkRefunded(ctx context.Context, ticketID string) error

	// CountIssued counts tickets ever issued for a tier (refunds included,
	// seats are not resold).
	CountIssued(ctx context.Context, tierID string) (int, error)

	CreateAgentCode(ctx context.Context, code *AgentCode) error
	GetAgentCode(ctx context.Context, id string) (*AgentCode, error)
	FindAgentCode(ctx context.Context, eventID, code string) (*AgentCode, error)
	ListAgentCodes(ctx context.Context, eventID string) ([]*AgentCode, error)
	DeactivateAgentCode(ctx context.Context, id string) error
}

// CheckInRequest identifies the ticket by id or number.
type CheckInRequest struct {
	TicketID     string `json:"ticketId"`
	TicketNumber string `json:"ticketNumber"`
	EventID      string `json:"eventId" binding:"required"`
	AgentCode    string `json:"agentCode"`
}

// Service orchestrates check-in and agent code management.
type Service struct {
	store Store
}

// NewService creates a ticket service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns a ticket by id.
func (s *Service) Get(ctx context.Context, id string) (*Ticket, error) {
	return s.store.GetTicket(ctx, id)
}

// ListByPayment returns the tickets a payment issued.
func (s *Service) ListByPayment(ctx context.Context, reference string) ([]*Ticket, error) {
	return s.store.ListByPayment(ctx, reference)
}

// Resolve finds a ticket by id or number, id taking precedence.
func (s *Service) Resolve(ctx context.Context, id, number string) (*Ticket, error) {
	if id != "" {
		return s.store.GetTicket(ctx, id)
	}
	if number != "" {
		return s.store.GetByNumber(ctx, number)
	}
	return nil, ErrTicketNotFound
}

// CheckIn admits a ticket at the gate. The agent code, when present, is
// validated before the ticket is touched; an inactive code never consumes
// the ticket's single check-in.
func (s *Service) CheckIn(ctx context.Context, req CheckInRequest) (*Ticket, error) {
	ticket, err := s.Resolve(ctx, req.TicketID, req.TicketNumber)
	if err != nil {
		return nil, err
	}
	if ticket.EventID != req.EventID {
		return nil, ErrEventMismatch
	}

	agentCodeID := ""
	if req.AgentCode != "" {
		code, err := s.store.FindAgentCode(ctx, req.EventID, req.AgentCode)
		if err != nil {
			return nil, err
		}
		if !code.Active {
			return nil, ErrAgentCodeInactive
		}
		agentCodeID = code.ID
	}

	return s.store.CheckIn(ctx, ticket.ID, req.EventID, agentCodeID, time.Now())
}

// IssueAgentCode creates a new active code for an event.
func (s *Service) IssueAgentCode(ctx context.Context, eventID, label string) (*AgentCode, error) {
	code := NewAgentCode(eventID, label)
	if err := s.store.CreateAgentCode(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to create agent code: %w", err)
	}
	return code, nil
}

// ListAgentCodes returns an event's codes with their usage stats.
func (s *Service) ListAgentCodes(ctx context.Context, eventID string) ([]*AgentCode, error) {
	return s.store.ListAgentCodes(ctx, eventID)
}

// DeactivateAgentCode revokes a code. Revocation takes effect on the next
// check-in attempt; it is not an error if the code was already inactive.
func (s *Service) DeactivateAgentCode(ctx context.Context, id string) error {
	err := s.store.DeactivateAgentCode(ctx, id)
	if err != nil && !errors.Is(err, ErrAgentCodeNotFound) {
		return fmt.Errorf("failed to deactivate agent code: %w", err)
	}
	return err
}

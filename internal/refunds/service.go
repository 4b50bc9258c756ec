package refunds

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Oltking/hdticketdesk-sub002/internal/events"
	"github.com/Oltking/hdticketdesk-sub002/internal/gateway"
	"github.com/Oltking/hdticketdesk-sub002/internal/idgen"
	"github.com/Oltking/hdticketdesk-sub002/internal/metrics"
	"github.com/Oltking/hdticketdesk-sub002/internal/payments"
	"github.com/Oltking/hdticketdesk-sub002/internal/tickets"
)

// Service coordinates the refund state machine across tickets, payments,
// the gateway, and the ledger.
type Service struct {
	store    Store
	tickets  tickets.Store
	events   events.Store
	payments payments.Store
	gateway  gateway.Client
	applier  Applier
	logger   *slog.Logger
}

// NewService creates a refund service.
func NewService(store Store, tk tickets.Store, ev events.Store, pay payments.Store,
	gw gateway.Client, applier Applier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		tickets:  tk,
		events:   ev,
		payments: pay,
		gateway:  gw,
		applier:  applier,
		logger:   logger,
	}
}

// Request opens a PENDING refund request for an ACTIVE ticket on a
// refundable tier. A ticket carries at most one open request at a time.
func (s *Service) Request(ctx context.Context, ticketID, requesterID, reason string) (*RefundRequest, error) {
	t, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status != tickets.StatusActive {
		return nil, tickets.StatusError(t.Status)
	}

	tier, err := s.events.GetTier(ctx, t.TierID)
	if err != nil {
		return nil, err
	}
	if !tier.Refundable {
		return nil, ErrNotRefundable
	}

	open, err := s.store.OpenForTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, ErrOpenRequestExists
	}

	p, err := s.payments.Get(ctx, t.PaymentReference)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	r := &RefundRequest{
		ID:           idgen.WithPrefix("rf_"),
		TicketID:     ticketID,
		RequesterID:  requesterID,
		Status:       StatusPending,
		Reason:       reason,
		RefundAmount: p.Amount / int64(p.Quantity),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}

	metrics.RefundsTotal.WithLabelValues("requested").Inc()
	s.logger.Info("Refund requested",
		"refund_id", r.ID,
		"ticket_id", ticketID,
		"amount", r.RefundAmount)
	return r, nil
}

// Approve moves a PENDING request to APPROVED. No money moves yet.
func (s *Service) Approve(ctx context.Context, id string) (*RefundRequest, error) {
	if err := s.store.Approve(ctx, id, time.Now()); err != nil {
		return nil, err
	}
	metrics.RefundsTotal.WithLabelValues("approved").Inc()
	return s.store.Get(ctx, id)
}

// Reject moves a PENDING request to REJECTED. The note is mandatory; the
// ticket stays ACTIVE.
func (s *Service) Reject(ctx context.Context, id, note string) (*RefundRequest, error) {
	if note == "" {
		return nil, ErrNoteRequired
	}
	if err := s.store.Reject(ctx, id, note, time.Now()); err != nil {
		return nil, err
	}
	metrics.RefundsTotal.WithLabelValues("rejected").Inc()
	return s.store.Get(ctx, id)
}

// Process executes an APPROVED refund. The request is claimed with a
// conditional APPROVED to PROCESSING transition before the gateway is
// touched, so a concurrent Process on the same request loses the claim
// instead of reversing the charge a second time. A gateway failure
// releases the claim so an operator can retry.
func (s *Service) Process(ctx context.Context, id string) (*RefundRequest, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusApproved {
		return nil, ErrInvalidState
	}

	t, err := s.tickets.GetTicket(ctx, r.TicketID)
	if err != nil {
		return nil, err
	}
	p, err := s.payments.Get(ctx, t.PaymentReference)
	if err != nil {
		return nil, err
	}

	// Only one processor claims the request.
	if err := s.store.MarkProcessing(ctx, id); err != nil {
		return nil, err
	}

	refundRef, err := s.gateway.ReverseCharge(ctx, p.TransactionRef, r.RefundAmount)
	if err != nil {
		// No money moved; give the claim back.
		if relErr := s.store.ReleaseProcessing(ctx, id); relErr != nil {
			s.logger.Error("Failed to release refund claim",
				"refund_id", r.ID, "error", relErr)
		}
		s.logger.Warn("Refund reversal rejected by gateway",
			"refund_id", r.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrReversalFailed, err)
	}

	err = s.applier.Apply(ctx, Application{
		PaymentReference: t.PaymentReference,
		TicketID:         t.ID,
		OrganizerID:      t.OrganizerID,
		LedgerAmount:     p.NetAmount / int64(p.Quantity),
		RefundID:         r.ID,
	})
	if err != nil {
		// The buyer has been refunded but the books were not updated.
		// The claim is deliberately not released: a retry would reverse
		// the charge again. The request stays PROCESSING until an
		// operator reconciles it.
		s.logger.Error("UNRECONCILED: charge reversed but refund not applied",
			"refund_id", r.ID,
			"refund_ref", refundRef,
			"error", err)
		return nil, err
	}

	if err := s.store.MarkProcessed(ctx, id, refundRef, time.Now()); err != nil {
		return nil, err
	}

	metrics.RefundsTotal.WithLabelValues("processed").Inc()
	s.logger.Info("Refund processed",
		"refund_id", r.ID,
		"ticket_id", r.TicketID,
		"refund_ref", refundRef,
		"amount", r.RefundAmount)
	return s.store.Get(ctx, id)
}

// Get returns one refund request.
func (s *Service) Get(ctx context.Context, id string) (*RefundRequest, error) {
	return s.store.Get(ctx, id)
}

// ListByStatus returns requests awaiting a given action.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]*RefundRequest, error) {
	return s.store.ListByStatus(ctx, status, limit)
}

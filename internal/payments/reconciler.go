package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Oltking/hdticketdesk-sub002/internal/events"
	"github.com/Oltking/hdticketdesk-sub002/internal/gateway"
	"github.com/Oltking/hdticketdesk-sub002/internal/ledger"
	"github.com/Oltking/hdticketdesk-sub002/internal/metrics"
	"github.com/Oltking/hdticketdesk-sub002/internal/money"
	"github.com/Oltking/hdticketdesk-sub002/internal/tickets"
	"github.com/Oltking/hdticketdesk-sub002/internal/traces"
)

// Outcome classifies one Verify call for callers that need to distinguish
// "settled now" from "was already settled" and "still pending".
type Outcome string

const (
	OutcomeVerified        Outcome = "verified"
	OutcomeAlreadyVerified Outcome = "already_verified"
	OutcomePending         Outcome = "pending"
	OutcomeFailed          Outcome = "failed"
	OutcomeAmountMismatch  Outcome = "amount_mismatch"
)

// Settler executes the atomic settlement: payment SUCCESS, tickets inserted,
// TICKET_SALE appended. All three or none.
type Settler interface {
	SettleSuccess(ctx context.Context, reference string, s Settlement, issue tickets.Issue, credit ledger.SaleCredit) ([]*tickets.Ticket, *ledger.Entry, error)
}

// Reconciler drives payments from PENDING to a terminal state against the
// gateway's authoritative view.
type Reconciler struct {
	store      Store
	events     events.Store
	tickets    tickets.Store
	gateway    gateway.Client
	settler    Settler
	feeRate    decimal.Decimal
	maturation time.Duration
	logger     *slog.Logger
}

// NewReconciler creates a payment reconciler.
func NewReconciler(store Store, eventStore events.Store, ticketStore tickets.Store, gw gateway.Client, settler Settler, feeRate decimal.Decimal, maturation time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		events:     eventStore,
		tickets:    ticketStore,
		gateway:    gw,
		settler:    settler,
		feeRate:    feeRate,
		maturation: maturation,
		logger:     logger,
	}
}

// InitiateRequest starts a checkout for an event tier.
type InitiateRequest struct {
	EventID      string `json:"eventId" binding:"required"`
	TierID       string `json:"tierId" binding:"required"`
	Quantity     int    `json:"quantity"`
	BuyerEmail   string `json:"buyerEmail"`
	AttendeeName string `json:"attendeeName"`
}

// Initiate creates a PENDING payment for a tier, capacity-checked against
// tickets already issued. The returned reference is what the buyer pays
// against and what every later Verify keys on.
func (r *Reconciler) Initiate(ctx context.Context, req InitiateRequest) (*Payment, error) {
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	if req.Quantity > 10 {
		return nil, ErrInvalidQuantity
	}

	tier, err := r.events.GetTier(ctx, req.TierID)
	if err != nil {
		return nil, err
	}
	if tier.EventID != req.EventID {
		return nil, events.ErrTierNotFound
	}
	ev, err := r.events.GetEvent(ctx, tier.EventID)
	if err != nil {
		return nil, err
	}

	issued, err := r.tickets.CountIssued(ctx, tier.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count issued tickets: %w", err)
	}
	if issued+req.Quantity > tier.Capacity {
		return nil, ErrSoldOut
	}

	now := time.Now()
	p := &Payment{
		Reference:    NewReference(),
		OrganizerID:  ev.OrganizerID,
		EventID:      ev.ID,
		TierID:       tier.ID,
		Quantity:     req.Quantity,
		Amount:       tier.Price * int64(req.Quantity),
		BuyerEmail:   req.BuyerEmail,
		AttendeeName: req.AttendeeName,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.store.Create(ctx, p); err != nil {
		return nil, err
	}
	r.logger.Info("payment initiated",
		"reference", p.Reference, "eventId", p.EventID, "tierId", p.TierID,
		"quantity", p.Quantity, "amount", p.Amount)
	return p, nil
}

// Get returns a payment by reference.
func (r *Reconciler) Get(ctx context.Context, reference string) (*Payment, error) {
	return r.store.Get(ctx, reference)
}

// Verify reconciles one payment against the gateway. Safe to call
// concurrently and repeatedly; exactly one call settles.
func (r *Reconciler) Verify(ctx context.Context, reference string) (*Payment, Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "payments.Verify", traces.Reference(reference))
	defer span.End()

	p, err := r.store.Get(ctx, reference)
	if err != nil {
		return nil, "", err
	}
	if p.Status.Terminal() {
		if p.Status == StatusFailed {
			return p, OutcomeFailed, nil
		}
		return p, OutcomeAlreadyVerified, nil
	}

	charge, err := r.gateway.VerifyTransaction(ctx, reference)
	if errors.Is(err, gateway.ErrTransactionNotFound) {
		// Buyer may not have paid yet; stay PENDING for the sweep.
		return p, OutcomePending, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("gateway verification failed: %w", err)
	}

	switch charge.Status {
	case gateway.ChargePending:
		return p, OutcomePending, nil

	case gateway.ChargeFailed:
		if err := r.store.MarkFailed(ctx, reference, "gateway reported failure"); err != nil {
			return nil, "", err
		}
		metrics.PaymentsVerifiedTotal.WithLabelValues("failed").Inc()
		r.logger.Info("payment failed at gateway", "reference", reference)
		return r.reload(ctx, reference, OutcomeFailed)

	case gateway.ChargeSuccess:
		if charge.Amount != p.Amount {
			// Never auto-correct; a human decides what a wrong amount means.
			reason := fmt.Sprintf("gateway amount %d != expected %d", charge.Amount, p.Amount)
			if err := r.store.FlagReview(ctx, reference, reason, charge.Amount); err != nil {
				return nil, "", err
			}
			metrics.PaymentsVerifiedTotal.WithLabelValues("amount_mismatch").Inc()
			r.logger.Warn("payment amount mismatch",
				"reference", reference, "expected", p.Amount, "actual", charge.Amount)
			return r.reload(ctx, reference, OutcomeAmountMismatch)
		}
		return r.settle(ctx, p, charge)

	default:
		return nil, "", fmt.Errorf("unknown gateway charge status %q", charge.Status)
	}
}

func (r *Reconciler) settle(ctx context.Context, p *Payment, charge *gateway.Charge) (*Payment, Outcome, error) {
	now := time.Now()
	settlement := Settlement{
		PaidAmount:     charge.Amount,
		FeeAmount:      money.Fee(p.Amount, r.feeRate),
		NetAmount:      money.NetOfFee(p.Amount, r.feeRate),
		TransactionRef: charge.TransactionRef,
		VerifiedAt:     now,
	}
	issue := tickets.Issue{
		EventID:          p.EventID,
		TierID:           p.TierID,
		OrganizerID:      p.OrganizerID,
		PaymentReference: p.Reference,
		AttendeeName:     p.AttendeeName,
		Quantity:         p.Quantity,
	}
	credit := ledger.SaleCredit{
		OrganizerID: p.OrganizerID,
		NetAmount:   settlement.NetAmount,
		Reference:   p.Reference,
		Description: fmt.Sprintf("sale of %d ticket(s)", p.Quantity),
		MaturesAt:   now.Add(r.maturation),
	}

	issued, entry, err := r.settler.SettleSuccess(ctx, p.Reference, settlement, issue, credit)
	if errors.Is(err, ErrAlreadySettled) || errors.Is(err, ledger.ErrDuplicateReference) {
		// A concurrent Verify won the race; the result is the same.
		return r.reload(ctx, p.Reference, OutcomeAlreadyVerified)
	}
	if err != nil {
		return nil, "", fmt.Errorf("settlement failed: %w", err)
	}

	metrics.PaymentsVerifiedTotal.WithLabelValues("verified").Inc()
	metrics.TicketsIssuedTotal.Add(float64(len(issued)))
	r.logger.Info("payment settled",
		"reference", p.Reference, "net", settlement.NetAmount,
		"tickets", len(issued), "ledgerEntry", entry.ID)
	return r.reload(ctx, p.Reference, OutcomeVerified)
}

func (r *Reconciler) reload(ctx context.Context, reference string, outcome Outcome) (*Payment, Outcome, error) {
	p, err := r.store.Get(ctx, reference)
	if err != nil {
		return nil, "", err
	}
	return p, outcome, nil
}

// BulkResult reports an admin bulk verification pass.
type BulkResult struct {
	Verified int `json:"verified"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`
}

// VerifyAllPending verifies every pending payment, tolerating per-item
// failures.
func (r *Reconciler) VerifyAllPending(ctx context.Context) (*BulkResult, error) {
	pending, err := r.store.ListPending(ctx, time.Now(), 500)
	if err != nil {
		return nil, err
	}

	result := &BulkResult{}
	for _, p := range pending {
		_, outcome, err := r.Verify(ctx, p.Reference)
		switch {
		case err != nil:
			result.Failed++
			r.logger.Warn("bulk verify item failed", "reference", p.Reference, "error", err)
		case outcome == OutcomeVerified || outcome == OutcomeAlreadyVerified:
			result.Verified++
		case outcome == OutcomeFailed || outcome == OutcomeAmountMismatch:
			result.Failed++
		default:
			result.Pending++
		}
	}
	return result, nil
}

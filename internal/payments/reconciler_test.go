package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oltking/hdticketdesk-sub002/internal/events"
	"github.com/Oltking/hdticketdesk-sub002/internal/gateway"
	"github.com/Oltking/hdticketdesk-sub002/internal/ledger"
	"github.com/Oltking/hdticketdesk-sub002/internal/logging"
	"github.com/Oltking/hdticketdesk-sub002/internal/tickets"
)

type fixture struct {
	reconciler *Reconciler
	payments   *MemoryStore
	tickets    *tickets.MemoryStore
	ledger     *ledger.Ledger
	gateway    *gateway.Mock
	eventStore *events.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	paymentStore := NewMemoryStore()
	ticketStore := tickets.NewMemoryStore()
	ledgerSvc := ledger.New(ledger.NewMemoryStore())
	eventStore := events.NewMemoryStore()
	events.SeedDev(eventStore)
	gw := gateway.NewMock()

	settler := &MemorySettler{
		Payments: paymentStore,
		Tickets:  ticketStore,
		Ledger:   ledgerSvc,
	}
	reconciler := NewReconciler(
		paymentStore, eventStore, ticketStore, gw, settler,
		decimal.RequireFromString("0.05"), 168*time.Hour, logging.Nop(),
	)

	return &fixture{
		reconciler: reconciler,
		payments:   paymentStore,
		tickets:    ticketStore,
		ledger:     ledgerSvc,
		gateway:    gw,
		eventStore: eventStore,
	}
}

func (f *fixture) initiate(t *testing.T, quantity int) *Payment {
	t.Helper()
	p, err := f.reconciler.Initiate(context.Background(), InitiateRequest{
		EventID:  "evt_dev_1",
		TierID:   "tier_dev_ga",
		Quantity: quantity,
	})
	require.NoError(t, err)
	return p
}

func TestInitiate(t *testing.T) {
	f := newFixture(t)

	p := f.initiate(t, 2)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, int64(50000), p.Amount)
	assert.Equal(t, "org_dev_1", p.OrganizerID)
	assert.Contains(t, p.Reference, "PAY-")
}

func TestInitiateSoldOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.eventStore.AddTier(&events.Tier{
		ID: "tier_tiny", EventID: "evt_dev_1", Name: "Tiny", Price: 1000, Capacity: 1,
	})

	p, err := f.reconciler.Initiate(ctx, InitiateRequest{
		EventID: "evt_dev_1", TierID: "tier_tiny", Quantity: 1,
	})
	require.NoError(t, err)

	// Issue the only seat, then the tier is sold out.
	f.gateway.SeedCharge(p.Reference, gateway.ChargeSuccess, p.Amount)
	_, outcome, err := f.reconciler.Verify(ctx, p.Reference)
	require.NoError(t, err)
	require.Equal(t, OutcomeVerified, outcome)

	_, err = f.reconciler.Initiate(ctx, InitiateRequest{
		EventID: "evt_dev_1", TierID: "tier_tiny", Quantity: 1,
	})
	assert.ErrorIs(t, err, ErrSoldOut)
}

func TestVerifySettlesSuccessfulCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.initiate(t, 1)
	f.gateway.SeedCharge(p.Reference, gateway.ChargeSuccess, 25000)

	got, outcome, err := f.reconciler.Verify(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, outcome)
	assert.Equal(t, StatusSuccess, got.Status)

	// 5% platform fee on 25000.
	assert.Equal(t, int64(1250), got.FeeAmount)
	assert.Equal(t, int64(23750), got.NetAmount)
	require.NotNil(t, got.VerifiedAt)

	issued, err := f.tickets.ListByPayment(ctx, p.Reference)
	require.NoError(t, err)
	require.Len(t, issued, 1)
	assert.Equal(t, tickets.StatusActive, issued[0].Status)

	bal, err := f.ledger.Balance(ctx, "org_dev_1")
	require.NoError(t, err)
	assert.Equal(t, int64(23750), bal.Pending)

	sale, err := f.ledger.FindSale(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, issued[0].ID, sale.RelatedTicketID)
}

func TestVerifyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.initiate(t, 1)
	f.gateway.SeedCharge(p.Reference, gateway.ChargeSuccess, 25000)

	for i := 0; i < 5; i++ {
		_, outcome, err := f.reconciler.Verify(ctx, p.Reference)
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, OutcomeVerified, outcome)
		} else {
			assert.Equal(t, OutcomeAlreadyVerified, outcome)
		}
	}

	// One ticket batch, one ledger entry, one credit.
	issued, err := f.tickets.ListByPayment(ctx, p.Reference)
	require.NoError(t, err)
	assert.Len(t, issued, 1)

	bal, err := f.ledger.Balance(ctx, "org_dev_1")
	require.NoError(t, err)
	assert.Equal(t, int64(23750), bal.Pending)
}

func TestVerifyConcurrentSettlesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.initiate(t, 1)
	f.gateway.SeedCharge(p.Reference, gateway.ChargeSuccess, 25000)

	const callers = 20
	var wg sync.WaitGroup
	outcomes := make(chan Outcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, outcome, err := f.reconciler.Verify(ctx, p.Reference)
			assert.NoError(t, err)
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	verified := 0
	for o := range outcomes {
		if o == OutcomeVerified {
			verified++
		}
	}
	assert.Equal(t, 1, verified)

	bal, err := f.ledger.Balance(ctx, "org_dev_1")
	require.NoError(t, err)
	assert.Equal(t, int64(23750), bal.Pending)
}

func TestVerifyPendingCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.initiate(t, 1)
	f.gateway.SeedCharge(p.Reference, gateway.ChargePending, 25000)

	got, outcome, err := f.reconciler.Verify(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, outcome)
	assert.Equal(t, StatusPending, got.Status)
}

func TestVerifyUnknownAtGatewayStaysPending(t *testing.T) {
	f := newFixture(t)

	p := f.initiate(t, 1)

	got, outcome, err := f.reconciler.Verify(context.Background(), p.Reference)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, outcome)
	assert.Equal(t, StatusPending, got.Status)
}

func TestVerifyFailedChargeIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.initiate(t, 1)
	f.gateway.SeedCharge(p.Reference, gateway.ChargeFailed, 25000)

	got, outcome, err := f.reconciler.Verify(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, StatusFailed, got.Status)

	// Later success at the gateway must not resurrect a FAILED payment.
	f.gateway.SeedCharge(p.Reference, gateway.ChargeSuccess, 25000)
	got, outcome, err = f.reconciler.Verify(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, StatusFailed, got.Status)

	issued, err := f.tickets.ListByPayment(ctx, p.Reference)
	require.NoError(t, err)
	assert.Empty(t, issued)
}

func TestVerifyAmountMismatchFlagsReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.initiate(t, 1)
	f.gateway.SeedCharge(p.Reference, gateway.ChargeSuccess, 20000) // expected 25000

	got, outcome, err := f.reconciler.Verify(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAmountMismatch, outcome)
	assert.Equal(t, StatusPending, got.Status)
	assert.True(t, got.ReviewRequired)
	assert.Equal(t, int64(20000), got.PaidAmount)

	// No money moved and no tickets issued.
	bal, err := f.ledger.Balance(ctx, "org_dev_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Pending)

	issued, err := f.tickets.ListByPayment(ctx, p.Reference)
	require.NoError(t, err)
	assert.Empty(t, issued)

	// If the gateway record is corrected, a manual verify settles and
	// clears the flag.
	f.gateway.SeedCharge(p.Reference, gateway.ChargeSuccess, 25000)
	got, outcome, err = f.reconciler.Verify(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, outcome)
	assert.False(t, got.ReviewRequired)
}

func TestVerifyGatewayUnavailable(t *testing.T) {
	f := newFixture(t)

	p := f.initiate(t, 1)
	f.gateway.VerifyErr = gateway.ErrUnavailable

	_, _, err := f.reconciler.Verify(context.Background(), p.Reference)
	assert.ErrorIs(t, err, gateway.ErrUnavailable)

	// Transient failure leaves the payment retryable.
	got, err := f.payments.Get(context.Background(), p.Reference)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestVerifyNotFound(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.reconciler.Verify(context.Background(), "PAY-GHOST")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestVerifyQuantityIssuesAllTickets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.initiate(t, 3)
	f.gateway.SeedCharge(p.Reference, gateway.ChargeSuccess, 75000)

	_, outcome, err := f.reconciler.Verify(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, outcome)

	issued, err := f.tickets.ListByPayment(ctx, p.Reference)
	require.NoError(t, err)
	assert.Len(t, issued, 3)

	// One TICKET_SALE entry for the payment total.
	entries, total, err := f.ledger.History(ctx, "org_dev_1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, int64(71250), entries[0].Amount)
}

func TestVerifyAllPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok := f.initiate(t, 1)
	bad := f.initiate(t, 1)
	waiting := f.initiate(t, 1)

	f.gateway.SeedCharge(ok.Reference, gateway.ChargeSuccess, 25000)
	f.gateway.SeedCharge(bad.Reference, gateway.ChargeFailed, 25000)
	f.gateway.SeedCharge(waiting.Reference, gateway.ChargePending, 25000)

	result, err := f.reconciler.VerifyAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Verified)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Pending)
}

func TestSweeperSettlesStalePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.initiate(t, 1)
	f.gateway.SeedCharge(p.Reference, gateway.ChargeSuccess, 25000)

	// Backdate so the sweep cutoff catches it.
	f.payments.mu.Lock()
	f.payments.payments[p.Reference].CreatedAt = time.Now().Add(-time.Hour)
	f.payments.mu.Unlock()

	sweeper := NewSweeper(f.reconciler, f.payments, time.Minute, 5*time.Minute, logging.Nop())
	sweeper.sweep(ctx)

	got, err := f.payments.Get(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
}

package refunds

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
	"github.com/Oltking/hdticketdesk-sub002/internal/payments"
	"github.com/Oltking/hdticketdesk-sub002/internal/tickets"
)

type fixture struct {
	service    *Service
	store      *MemoryStore
	payments   *payments.MemoryStore
	tickets    *tickets.MemoryStore
	ledger     *ledger.Ledger
	gateway    *gateway.Mock
	reconciler *payments.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	eventStore := events.NewMemoryStore()
	events.SeedDev(eventStore)
	payStore := payments.NewMemoryStore()
	ticketStore := tickets.NewMemoryStore()
	ldg := ledger.New(ledger.NewMemoryStore())
	gw := gateway.NewMock()
	logger := logging.Nop()

	settler := &payments.MemorySettler{Payments: payStore, Tickets: ticketStore, Ledger: ldg}
	reconciler := payments.NewReconciler(payStore, eventStore, ticketStore, gw, settler,
		decimal.RequireFromString("0.05"), 168*time.Hour, logger)

	store := NewMemoryStore()
	applier := &MemoryApplier{Payments: payStore, Tickets: ticketStore, Ledger: ldg}
	svc := NewService(store, ticketStore, eventStore, payStore, gw, applier, logger)

	return &fixture{
		service:    svc,
		store:      store,
		payments:   payStore,
		tickets:    ticketStore,
		ledger:     ldg,
		gateway:    gw,
		reconciler: reconciler,
	}
}

// soldTicket runs a checkout through the reconciler so the refund under test
// starts from a real settled sale. tierID defaults to the refundable GA tier.
func (f *fixture) soldTicket(t *testing.T, tierID string, quantity int) (*tickets.Ticket, *payments.Payment) {
	t.Helper()
	ctx := context.Background()

	if tierID == "" {
		tierID = "tier_dev_ga"
	}
	p, err := f.reconciler.Initiate(ctx, payments.InitiateRequest{
		EventID:  "evt_dev_1",
		TierID:   tierID,
		Quantity: quantity,
	})
	require.NoError(t, err)

	f.gateway.SeedCharge(p.Reference, gateway.ChargeSuccess, p.Amount)
	p, outcome, err := f.reconciler.Verify(ctx, p.Reference)
	require.NoError(t, err)
	require.Equal(t, payments.OutcomeVerified, outcome)

	ts, err := f.tickets.ListByPayment(ctx, p.Reference)
	require.NoError(t, err)
	require.NotEmpty(t, ts)
	return ts[0], p
}

func (f *fixture) openRequest(t *testing.T, ticketID string) *RefundRequest {
	t.Helper()
	r, err := f.service.Request(context.Background(), ticketID, "buyer_1", "cannot attend")
	require.NoError(t, err)
	return r
}

func TestRequestRefundableTicket(t *testing.T) {
	f := newFixture(t)
	tk, p := f.soldTicket(t, "", 1)

	r := f.openRequest(t, tk.ID)

	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, "cannot attend", r.Reason)
	// One ticket at GA price.
	assert.Equal(t, p.Amount, r.RefundAmount)
}

func TestRequestNonRefundableTier(t *testing.T) {
	f := newFixture(t)
	tk, _ := f.soldTicket(t, "tier_dev_vip", 1)

	_, err := f.service.Request(context.Background(), tk.ID, "buyer_1", "changed my mind")
	assert.ErrorIs(t, err, ErrNotRefundable)
}

func TestRequestRequiresActiveTicket(t *testing.T) {
	f := newFixture(t)
	tk, _ := f.soldTicket(t, "", 1)

	_, err := f.tickets.CheckIn(context.Background(), tk.ID, tk.EventID, "", time.Now())
	require.NoError(t, err)

	_, err = f.service.Request(context.Background(), tk.ID, "buyer_1", "cannot attend")
	assert.ErrorIs(t, err, tickets.ErrAlreadyCheckedIn)
}

func TestRequestOnePerTicket(t *testing.T) {
	f := newFixture(t)
	tk, _ := f.soldTicket(t, "", 1)
	f.openRequest(t, tk.ID)

	_, err := f.service.Request(context.Background(), tk.ID, "buyer_1", "asking again")
	assert.ErrorIs(t, err, ErrOpenRequestExists)
}

func TestRequestAllowedAfterRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.soldTicket(t, "", 1)
	r := f.openRequest(t, tk.ID)

	_, err := f.service.Reject(ctx, r.ID, "outside the refund window")
	require.NoError(t, err)

	// A rejected request does not block a new one.
	r2, err := f.service.Request(ctx, tk.ID, "buyer_1", "second attempt")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r2.Status)
}

func TestRejectRequiresNote(t *testing.T) {
	f := newFixture(t)
	tk, _ := f.soldTicket(t, "", 1)
	r := f.openRequest(t, tk.ID)

	_, err := f.service.Reject(context.Background(), r.ID, "")
	assert.ErrorIs(t, err, ErrNoteRequired)

	got, err := f.store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestRejectLeavesTicketActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.soldTicket(t, "", 1)
	r := f.openRequest(t, tk.ID)

	got, err := f.service.Reject(ctx, r.ID, "event already started")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, "event already started", got.RejectionNote)

	tk2, err := f.tickets.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tickets.StatusActive, tk2.Status)
}

func TestProcessRequiresApproval(t *testing.T) {
	f := newFixture(t)
	tk, _ := f.soldTicket(t, "", 1)
	r := f.openRequest(t, tk.ID)

	_, err := f.service.Process(context.Background(), r.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestProcessBeforeMaturation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, p := f.soldTicket(t, "", 1)
	r := f.openRequest(t, tk.ID)

	_, err := f.service.Approve(ctx, r.ID)
	require.NoError(t, err)

	got, err := f.service.Process(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, got.Status)
	assert.NotEmpty(t, got.RefundRef)
	require.NotNil(t, got.ProcessedAt)

	// Ticket and payment flipped.
	tk2, err := f.tickets.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tickets.StatusRefunded, tk2.Status)

	p2, err := f.payments.Get(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusRefunded, p2.Status)

	// The sale had not matured, so the net amount left pending.
	bal, err := f.ledger.Balance(ctx, tk.OrganizerID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Pending)
	assert.Equal(t, int64(0), bal.Available)

	require.Len(t, f.gateway.Reversals(), 1)

	result, err := f.ledger.Replay(ctx, tk.OrganizerID)
	require.NoError(t, err)
	assert.True(t, result.Match)
}

func TestProcessAfterMaturation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, p := f.soldTicket(t, "", 1)

	// Push the sale through maturation before refunding.
	_, err := f.ledger.MatureDue(ctx, time.Now().Add(200*time.Hour))
	require.NoError(t, err)

	r := f.openRequest(t, tk.ID)
	_, err = f.service.Approve(ctx, r.ID)
	require.NoError(t, err)
	_, err = f.service.Process(ctx, r.ID)
	require.NoError(t, err)

	// Matured sale is debited from available.
	bal, err := f.ledger.Balance(ctx, tk.OrganizerID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Pending)
	assert.Equal(t, int64(0), bal.Available)

	entries, _, err := f.ledger.History(ctx, tk.OrganizerID, 0, 50)
	require.NoError(t, err)
	var refund *ledger.Entry
	for _, e := range entries {
		if e.Type == ledger.TypeRefund {
			refund = e
		}
	}
	require.NotNil(t, refund)
	assert.Equal(t, ledger.BucketAvailable, refund.DebitBucket)
	assert.Equal(t, p.NetAmount, refund.Amount)
}

func TestProcessGatewayFailureStaysApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.soldTicket(t, "", 1)
	r := f.openRequest(t, tk.ID)
	_, err := f.service.Approve(ctx, r.ID)
	require.NoError(t, err)

	f.gateway.ReverseErr = gateway.ErrUnavailable
	_, err = f.service.Process(ctx, r.ID)
	assert.ErrorIs(t, err, ErrReversalFailed)

	// Nothing moved; the request can be retried.
	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)

	tk2, err := f.tickets.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tickets.StatusActive, tk2.Status)

	bal, err := f.ledger.Balance(ctx, tk.OrganizerID)
	require.NoError(t, err)
	assert.NotZero(t, bal.Pending)

	// Retry succeeds once the gateway recovers.
	f.gateway.ReverseErr = nil
	got, err = f.service.Process(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, got.Status)
}

func TestProcessConcurrentSingleReversal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.soldTicket(t, "", 1)
	r := f.openRequest(t, tk.ID)
	_, err := f.service.Approve(ctx, r.ID)
	require.NoError(t, err)

	// Two processors race the same approved request.
	start := make(chan struct{})
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.service.Process(ctx, r.ID)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	winners, losers := 0, 0
	for err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrInvalidState)
			losers++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, losers)

	// The buyer's charge was reversed exactly once.
	assert.Len(t, f.gateway.Reversals(), 1)

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, got.Status)
}

func TestProcessApplyFailureBlocksRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.soldTicket(t, "", 1)
	r := f.openRequest(t, tk.ID)
	_, err := f.service.Approve(ctx, r.ID)
	require.NoError(t, err)

	// Break the application step: the ticket is flipped behind the
	// service's back so the atomic apply fails after the reversal.
	require.NoError(t, f.tickets.MarkRefunded(ctx, tk.ID))

	_, err = f.service.Process(ctx, r.ID)
	require.Error(t, err)
	require.Len(t, f.gateway.Reversals(), 1)

	// The claim is held; a retry must not reach the gateway again.
	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)

	_, err = f.service.Process(ctx, r.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Len(t, f.gateway.Reversals(), 1)
}

func TestProcessMultiTicketPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, p := f.soldTicket(t, "", 2)

	r := f.openRequest(t, tk.ID)
	_, err := f.service.Approve(ctx, r.ID)
	require.NoError(t, err)
	got, err := f.service.Process(ctx, r.ID)
	require.NoError(t, err)

	// One ticket's share, not the whole payment.
	assert.Equal(t, p.Amount/2, got.RefundAmount)

	bal, err := f.ledger.Balance(ctx, tk.OrganizerID)
	require.NoError(t, err)
	assert.Equal(t, p.NetAmount-p.NetAmount/2, bal.Pending)

	// The sibling ticket is untouched.
	ts, err := f.tickets.ListByPayment(ctx, p.Reference)
	require.NoError(t, err)
	active := 0
	for _, tkt := range ts {
		if tkt.Status == tickets.StatusActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestListByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk1, _ := f.soldTicket(t, "", 1)
	tk2, _ := f.soldTicket(t, "", 1)
	r1 := f.openRequest(t, tk1.ID)
	f.openRequest(t, tk2.ID)

	_, err := f.service.Approve(ctx, r1.ID)
	require.NoError(t, err)

	pending, err := f.service.ListByStatus(ctx, StatusPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	approved, err := f.service.ListByStatus(ctx, StatusApproved, 10)
	require.NoError(t, err)
	assert.Len(t, approved, 1)
	assert.Equal(t, r1.ID, approved[0].ID)
}

package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Oltking/hdticketdesk-sub002/internal/gateway"
	"github.com/Oltking/hdticketdesk-sub002/internal/ledger"
	"github.com/Oltking/hdticketdesk-sub002/internal/metrics"
	"github.com/Oltking/hdticketdesk-sub002/internal/retry"
)

// Sweeper recovers withdrawals stranded in PROCESSING. A crash between the
// ledger debit and the payout, or a store failure after a dispatched payout,
// leaves a withdrawal that nothing revisits; the sweep asks the gateway what
// actually happened to the transfer and settles the record either way.
type Sweeper struct {
	store      Store
	ledger     *ledger.Ledger
	gateway    gateway.Client
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	stop       chan struct{}
	running    atomic.Bool
}

// NewSweeper creates a stranded-withdrawal sweeper.
func NewSweeper(store Store, ldg *ledger.Ledger, gw gateway.Client, interval, staleAfter time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:      store,
		ledger:     ldg,
		gateway:    gw,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in withdrawal sweep", "panic", fmt.Sprint(r))
		}
	}()
	s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.staleAfter)
	stale, err := s.store.ListProcessing(ctx, cutoff, 100)
	if err != nil {
		s.logger.Warn("failed to list stranded withdrawals", "error", err)
		return
	}

	for _, w := range stale {
		w := w
		err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
			return s.resolve(ctx, w)
		})
		if err != nil {
			s.logger.Warn("sweep could not settle withdrawal",
				"withdrawal_id", w.ID, "error", err)
		}
	}
}

// resolve settles one stranded withdrawal from the gateway's view of the
// transfer. The payout was dispatched under the withdrawal id, so that is
// the reference the gateway is asked about.
func (s *Sweeper) resolve(ctx context.Context, w *Withdrawal) error {
	tr, err := s.gateway.VerifyTransfer(ctx, w.ID)
	if errors.Is(err, gateway.ErrTransactionNotFound) {
		// The gateway never saw the payout; the crash happened before
		// dispatch. Whether the debit landed decides the compensation.
		return s.compensate(ctx, w, "payout never dispatched")
	}
	if err != nil {
		return err
	}

	switch tr.Status {
	case gateway.TransferSuccess:
		if err := s.store.Complete(ctx, w.ID, tr.TransferRef, time.Now()); err != nil {
			return err
		}
		metrics.WithdrawalsTotal.WithLabelValues("completed").Inc()
		s.logger.Info("sweep completed stranded withdrawal",
			"withdrawal_id", w.ID, "transfer_ref", tr.TransferRef)
	case gateway.TransferFailed:
		return s.compensate(ctx, w, "payout failed at gateway")
	default:
		// Still in flight; check again next pass.
	}
	return nil
}

// compensate gives the debited amount back, but only if the debit actually
// landed and has not been reversed already, so a repeated sweep pass cannot
// mint money.
func (s *Sweeper) compensate(ctx context.Context, w *Withdrawal, reason string) error {
	_, reversed, err := s.ledger.FindWithdrawal(ctx, w.ID)
	switch {
	case errors.Is(err, ledger.ErrEntryNotFound):
		// Crashed before the debit; nothing to give back.
	case err != nil:
		return err
	case !reversed:
		if _, err := s.ledger.ReverseWithdrawal(ctx, w.OrganizerID, w.Amount, w.ID, reason); err != nil {
			return err
		}
	}

	if err := s.store.Fail(ctx, w.ID, reason, time.Now()); err != nil {
		return err
	}
	metrics.WithdrawalsTotal.WithLabelValues("failed").Inc()
	s.logger.Warn("sweep failed stranded withdrawal",
		"withdrawal_id", w.ID, "reason", reason)
	return nil
}

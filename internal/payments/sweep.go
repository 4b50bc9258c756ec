package payments

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Oltking/hdticketdesk-sub002/internal/retry"
)

// Sweeper periodically re-verifies payments stuck in PENDING. Webhooks get
// lost; the sweep is the recovery path that makes verification eventually
// happen anyway.
type Sweeper struct {
	reconciler *Reconciler
	store      Store
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	stop       chan struct{}
	running    atomic.Bool
}

// NewSweeper creates a pending-payment sweeper.
func NewSweeper(reconciler *Reconciler, store Store, interval, staleAfter time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		reconciler: reconciler,
		store:      store,
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
			s.logger.Error("panic in payment sweep", "panic", fmt.Sprint(r))
		}
	}()
	s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.staleAfter)
	stale, err := s.store.ListPending(ctx, cutoff, 100)
	if err != nil {
		s.logger.Warn("failed to list stale payments", "error", err)
		return
	}

	for _, p := range stale {
		reference := p.Reference
		err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
			_, outcome, err := s.reconciler.Verify(ctx, reference)
			if err != nil {
				return err
			}
			if outcome == OutcomeVerified {
				s.logger.Info("sweep settled stale payment", "reference", reference)
			}
			return nil
		})
		if err != nil {
			s.logger.Warn("sweep verify failed", "reference", reference, "error", err)
		}
	}
}

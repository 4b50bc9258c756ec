package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Oltking/hdticketdesk-sub002/internal/metrics"
)

// Timer periodically moves due pending sale credits into the available bucket.
type Timer struct {
	ledger   *Ledger
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new maturation timer.
func NewTimer(ledger *Ledger, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		ledger:   ledger,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the maturation loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeMature(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeMature(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in maturation timer", "panic", fmt.Sprint(r))
		}
	}()
	t.matureDue(ctx)
}

func (t *Timer) matureDue(ctx context.Context) {
	batches, err := t.ledger.MatureDue(ctx, time.Now())
	if err != nil {
		t.logger.Warn("maturation pass incomplete", "error", err)
	}

	for _, b := range batches {
		metrics.MaturedAmount.Add(float64(b.Amount))
		t.logger.Info("matured sale credits",
			"organizerId", b.OrganizerID,
			"amount", b.Amount,
			"sales", b.Sales,
		)
	}
}

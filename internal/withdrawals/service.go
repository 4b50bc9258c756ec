package withdrawals

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Oltking/hdticketdesk-sub002/internal/gateway"
	"github.com/Oltking/hdticketdesk-sub002/internal/idgen"
	"github.com/Oltking/hdticketdesk-sub002/internal/ledger"
	"github.com/Oltking/hdticketdesk-sub002/internal/metrics"
)

// Request carries a withdrawal request. Bank details are optional; when a
// bank code and account number are supplied the account name is resolved
// through the gateway and stored for the payout narration.
type Request struct {
	Amount        int64  `json:"amount" binding:"required"`
	BankCode      string `json:"bankCode"`
	AccountNumber string `json:"accountNumber"`
}

// Service coordinates the withdrawal state machine against the ledger and
// the payment gateway.
type Service struct {
	store       Store
	ledger      *ledger.Ledger
	gateway     gateway.Client
	sender      Sender
	minAmount   int64
	otpTTL      time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewService creates a withdrawal service.
func NewService(store Store, ldg *ledger.Ledger, gw gateway.Client, sender Sender,
	minAmount int64, otpTTL time.Duration, maxAttempts int, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		ledger:      ldg,
		gateway:     gw,
		sender:      sender,
		minAmount:   minAmount,
		otpTTL:      otpTTL,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Request opens a withdrawal in PENDING_OTP. The available balance is
// checked here for early feedback but nothing is reserved; the ledger
// re-validates under its row lock when the code is confirmed, so a
// concurrent withdrawal that drains the balance first simply makes this
// one fail at confirm time.
func (s *Service) Request(ctx context.Context, organizerID string, req Request) (*Withdrawal, error) {
	if req.Amount < s.minAmount {
		return nil, ErrBelowMinimum
	}

	bal, err := s.ledger.Balance(ctx, organizerID)
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	if req.Amount > bal.Withdrawable() {
		return nil, ledger.ErrInsufficientBalance
	}

	now := time.Now()
	w := &Withdrawal{
		ID:            idgen.WithPrefix("wd_"),
		OrganizerID:   organizerID,
		Amount:        req.Amount,
		Status:        StatusPendingOTP,
		OTPCode:       NewOTP(),
		OTPExpiresAt:  now.Add(s.otpTTL),
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if req.BankCode != "" && req.AccountNumber != "" {
		name, err := s.gateway.ResolveAccountName(ctx, req.BankCode, req.AccountNumber)
		if err != nil {
			return nil, fmt.Errorf("resolve account name: %w", err)
		}
		w.AccountName = name
	}

	if err := s.store.Create(ctx, w); err != nil {
		return nil, err
	}

	if err := s.sender.Send(ctx, organizerID, w.ID, w.OTPCode); err != nil {
		// The withdrawal stays open; the code expires on its own.
		s.logger.Error("Failed to deliver withdrawal OTP",
			"withdrawal_id", w.ID, "error", err)
	}

	metrics.WithdrawalsTotal.WithLabelValues("requested").Inc()
	s.logger.Info("Withdrawal requested",
		"withdrawal_id", w.ID,
		"organizer_id", organizerID,
		"amount", req.Amount)
	return w, nil
}

// Confirm checks the one-time code and, if correct, debits the ledger and
// dispatches the payout. The ledger debit and the PROCESSING transition
// happen before the gateway call so no balance lock is held across the
// network; a rejected payout is compensated with a reversal entry.
func (s *Service) Confirm(ctx context.Context, withdrawalID, code string) (*Withdrawal, error) {
	w, err := s.store.Get(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.Status != StatusPendingOTP {
		return nil, ErrInvalidState
	}

	now := time.Now()
	if now.After(w.OTPExpiresAt) {
		if err := s.store.Fail(ctx, w.ID, "confirmation code expired", now); err != nil {
			return nil, err
		}
		metrics.WithdrawalsTotal.WithLabelValues("failed").Inc()
		return nil, ErrOtpExpired
	}

	if !otpMatches(w.OTPCode, code) {
		attempts, err := s.store.IncrementAttempts(ctx, w.ID)
		if err != nil {
			return nil, err
		}
		if attempts >= s.maxAttempts {
			if err := s.store.Fail(ctx, w.ID, "confirmation attempts exhausted", now); err != nil {
				return nil, err
			}
			metrics.WithdrawalsTotal.WithLabelValues("failed").Inc()
			return nil, ErrOtpAttemptsExceeded
		}
		return nil, ErrOtpInvalid
	}

	// Only one confirm wins this transition.
	if err := s.store.MarkProcessing(ctx, w.ID); err != nil {
		return nil, err
	}

	if _, err := s.ledger.DebitWithdrawal(ctx, w.OrganizerID, w.Amount, w.ID); err != nil {
		reason := "insufficient available balance at confirmation"
		if err != ledger.ErrInsufficientBalance {
			reason = fmt.Sprintf("ledger debit failed: %v", err)
		}
		if failErr := s.store.Fail(ctx, w.ID, reason, time.Now()); failErr != nil {
			s.logger.Error("Failed to mark withdrawal failed",
				"withdrawal_id", w.ID, "error", failErr)
		}
		metrics.WithdrawalsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	result, err := s.gateway.InitiatePayout(ctx, gateway.PayoutRequest{
		Reference:     w.ID,
		Amount:        w.Amount,
		BankCode:      w.BankCode,
		AccountNumber: w.AccountNumber,
		AccountName:   w.AccountName,
		Narration:     "Ticket sales withdrawal " + w.ID,
	})
	if err != nil {
		s.compensate(ctx, w, err)
		metrics.WithdrawalsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrPayoutFailed, err)
	}

	if err := s.store.Complete(ctx, w.ID, result.TransferRef, time.Now()); err != nil {
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues("completed").Inc()
	s.logger.Info("Withdrawal completed",
		"withdrawal_id", w.ID,
		"organizer_id", w.OrganizerID,
		"amount", w.Amount,
		"transfer_ref", result.TransferRef)
	return s.store.Get(ctx, w.ID)
}

// compensate reverses the ledger debit after a rejected payout. A failure
// here leaves the books inconsistent and is logged as such for operator
// intervention.
func (s *Service) compensate(ctx context.Context, w *Withdrawal, cause error) {
	reason := fmt.Sprintf("payout failed: %v", cause)
	if _, err := s.ledger.ReverseWithdrawal(ctx, w.OrganizerID, w.Amount, w.ID, reason); err != nil {
		s.logger.Error("UNRECONCILED: withdrawal debit not reversed",
			"withdrawal_id", w.ID,
			"organizer_id", w.OrganizerID,
			"amount", w.Amount,
			"error", err)
	}
	if err := s.store.Fail(ctx, w.ID, reason, time.Now()); err != nil {
		s.logger.Error("Failed to mark withdrawal failed",
			"withdrawal_id", w.ID, "error", err)
	}
	s.logger.Warn("Withdrawal payout rejected, debit reversed",
		"withdrawal_id", w.ID,
		"organizer_id", w.OrganizerID,
		"error", cause)
}

// Get returns one withdrawal.
func (s *Service) Get(ctx context.Context, id string) (*Withdrawal, error) {
	return s.store.Get(ctx, id)
}

// List returns an organizer's recent withdrawals.
func (s *Service) List(ctx context.Context, organizerID string, limit int) ([]*Withdrawal, error) {
	return s.store.ListByOrganizer(ctx, organizerID, limit)
}

// ResolveAccount looks up the holder name of a bank account through the
// gateway. Used by organizer payout setup.
func (s *Service) ResolveAccount(ctx context.Context, bankCode, accountNumber string) (string, error) {
	return s.gateway.ResolveAccountName(ctx, bankCode, accountNumber)
}

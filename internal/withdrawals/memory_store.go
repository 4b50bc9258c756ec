package withdrawals

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development mode and tests.
type MemoryStore struct {
	mu          sync.Mutex
	withdrawals map[string]*Withdrawal
}

// NewMemoryStore creates an empty in-memory withdrawal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{withdrawals: make(map[string]*Withdrawal)}
}

func (s *MemoryStore) Create(ctx context.Context, w *Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.withdrawals[w.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, ErrWithdrawalNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return 0, ErrWithdrawalNotFound
	}
	if w.Status != StatusPendingOTP {
		return 0, ErrInvalidState
	}
	w.OTPAttempts++
	w.UpdatedAt = time.Now()
	return w.OTPAttempts, nil
}

func (s *MemoryStore) MarkProcessing(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return ErrWithdrawalNotFound
	}
	if w.Status != StatusPendingOTP {
		return ErrInvalidState
	}
	w.Status = StatusProcessing
	w.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Complete(ctx context.Context, id, transferRef string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return ErrWithdrawalNotFound
	}
	if w.Status != StatusProcessing {
		return ErrInvalidState
	}
	w.Status = StatusCompleted
	w.TransferRef = transferRef
	w.ProcessedAt = &at
	w.UpdatedAt = at
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, id, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return ErrWithdrawalNotFound
	}
	if w.Status == StatusCompleted || w.Status == StatusFailed {
		return ErrInvalidState
	}
	w.Status = StatusFailed
	w.FailureReason = reason
	w.ProcessedAt = &at
	w.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ListProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Withdrawal
	for _, w := range s.withdrawals {
		if w.Status == StatusProcessing && w.UpdatedAt.Before(cutoff) {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListByOrganizer(ctx context.Context, organizerID string, limit int) ([]*Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Withdrawal
	for _, w := range s.withdrawals {
		if w.OrganizerID == organizerID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

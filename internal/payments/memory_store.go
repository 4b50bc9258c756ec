package payments

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory payment store for development mode and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]*Payment
}

// NewMemoryStore creates an empty in-memory payment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: make(map[string]*Payment)}
}

func (m *MemoryStore) Create(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.payments[p.Reference]; exists {
		return ErrPaymentExists
	}
	copied := *p
	m.payments[p.Reference] = &copied
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, reference string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[reference]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *MemoryStore) MarkFailed(ctx context.Context, reference, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[reference]
	if !ok {
		return ErrPaymentNotFound
	}
	if p.Status != StatusPending {
		return ErrAlreadySettled
	}
	p.Status = StatusFailed
	p.ReviewReason = reason
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) MarkRefunded(ctx context.Context, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[reference]
	if !ok {
		return ErrPaymentNotFound
	}
	if p.Status != StatusSuccess {
		return ErrAlreadySettled
	}
	p.Status = StatusRefunded
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) FlagReview(ctx context.Context, reference, reason string, paidAmount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[reference]
	if !ok {
		return ErrPaymentNotFound
	}
	p.ReviewRequired = true
	p.ReviewReason = reason
	p.PaidAmount = paidAmount
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListPending(ctx context.Context, before time.Time, limit int) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Payment
	for _, p := range m.payments {
		if p.Status == StatusPending && !p.ReviewRequired && p.CreatedAt.Before(before) {
			copied := *p
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// settle flips PENDING → SUCCESS with settlement values; returns
// ErrAlreadySettled when another verify won.
func (m *MemoryStore) settle(reference string, s Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[reference]
	if !ok {
		return ErrPaymentNotFound
	}
	if p.Status != StatusPending {
		return ErrAlreadySettled
	}
	verifiedAt := s.VerifiedAt
	p.Status = StatusSuccess
	p.PaidAmount = s.PaidAmount
	p.FeeAmount = s.FeeAmount
	p.NetAmount = s.NetAmount
	p.TransactionRef = s.TransactionRef
	p.VerifiedAt = &verifiedAt
	p.ReviewRequired = false
	p.ReviewReason = ""
	p.UpdatedAt = verifiedAt
	return nil
}

// revert undoes a memory settlement when a later step fails.
func (m *MemoryStore) revert(reference string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[reference]; ok && p.Status == StatusSuccess {
		p.Status = StatusPending
		p.VerifiedAt = nil
		p.UpdatedAt = time.Now()
	}
}

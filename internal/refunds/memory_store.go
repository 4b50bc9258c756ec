package refunds

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development mode and tests.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*RefundRequest
}

// NewMemoryStore creates an empty in-memory refund store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*RefundRequest)}
}

func (s *MemoryStore) Create(ctx context.Context, r *RefundRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*RefundRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrRefundNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Approve(ctx context.Context, id string, at time.Time) error {
	return s.transition(id, StatusPending, func(r *RefundRequest) {
		r.Status = StatusApproved
		r.UpdatedAt = at
	})
}

func (s *MemoryStore) Reject(ctx context.Context, id, note string, at time.Time) error {
	return s.transition(id, StatusPending, func(r *RefundRequest) {
		r.Status = StatusRejected
		r.RejectionNote = note
		r.UpdatedAt = at
	})
}

func (s *MemoryStore) MarkProcessing(ctx context.Context, id string) error {
	return s.transition(id, StatusApproved, func(r *RefundRequest) {
		r.Status = StatusProcessing
		r.UpdatedAt = time.Now()
	})
}

func (s *MemoryStore) ReleaseProcessing(ctx context.Context, id string) error {
	return s.transition(id, StatusProcessing, func(r *RefundRequest) {
		r.Status = StatusApproved
		r.UpdatedAt = time.Now()
	})
}

func (s *MemoryStore) MarkProcessed(ctx context.Context, id, refundRef string, at time.Time) error {
	return s.transition(id, StatusProcessing, func(r *RefundRequest) {
		r.Status = StatusProcessed
		r.RefundRef = refundRef
		r.ProcessedAt = &at
		r.UpdatedAt = at
	})
}

func (s *MemoryStore) transition(id string, from Status, apply func(*RefundRequest)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return ErrRefundNotFound
	}
	if r.Status != from {
		return ErrInvalidState
	}
	apply(r)
	return nil
}

func (s *MemoryStore) OpenForTicket(ctx context.Context, ticketID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.TicketID == ticketID && r.Status != StatusRejected {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*RefundRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*RefundRequest
	for _, r := range s.requests {
		if r.Status == status {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

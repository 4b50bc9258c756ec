package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/Oltking/hdticketdesk-sub002/internal/idgen"
)

// Mock is an in-memory gateway for development mode and tests. Charges are
// seeded explicitly; payouts and reversals succeed unless a failure is
// injected.
type Mock struct {
	mu        sync.Mutex
	charges   map[string]*Charge
	transfers map[string]*Transfer

	PayoutErr   error // injected failure for InitiatePayout
	ReverseErr  error // injected failure for ReverseCharge
	VerifyErr   error // injected failure for VerifyTransaction
	TransferErr error // injected failure for VerifyTransfer

	payouts   []PayoutRequest
	reversals []string
}

// NewMock creates an empty mock gateway.
func NewMock() *Mock {
	return &Mock{
		charges:   make(map[string]*Charge),
		transfers: make(map[string]*Transfer),
	}
}

// SeedCharge registers the gateway-side state of a charge.
func (m *Mock) SeedCharge(reference string, status ChargeStatus, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charges[reference] = &Charge{
		Reference:      reference,
		Status:         status,
		Amount:         amount,
		TransactionRef: idgen.WithPrefix("gtx_"),
		PaidAt:         time.Now(),
	}
}

func (m *Mock) VerifyTransaction(ctx context.Context, reference string) (*Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.VerifyErr != nil {
		return nil, m.VerifyErr
	}
	if c, ok := m.charges[reference]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, ErrTransactionNotFound
}

// SeedTransfer registers the gateway-side state of a payout transfer.
func (m *Mock) SeedTransfer(reference string, status TransferStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers[reference] = &Transfer{
		Reference:   reference,
		Status:      status,
		TransferRef: idgen.WithPrefix("trf_"),
	}
}

func (m *Mock) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PayoutErr != nil {
		return nil, m.PayoutErr
	}
	m.payouts = append(m.payouts, req)
	ref := idgen.WithPrefix("trf_")
	m.transfers[req.Reference] = &Transfer{
		Reference:   req.Reference,
		Status:      TransferSuccess,
		TransferRef: ref,
	}
	return &PayoutResult{TransferRef: ref}, nil
}

func (m *Mock) VerifyTransfer(ctx context.Context, reference string) (*Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TransferErr != nil {
		return nil, m.TransferErr
	}
	if tr, ok := m.transfers[reference]; ok {
		cp := *tr
		return &cp, nil
	}
	return nil, ErrTransactionNotFound
}

func (m *Mock) ReverseCharge(ctx context.Context, transactionRef string, amount int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReverseErr != nil {
		return "", m.ReverseErr
	}
	m.reversals = append(m.reversals, transactionRef)
	return idgen.WithPrefix("rfd_"), nil
}

func (m *Mock) ResolveAccountName(ctx context.Context, bankCode, accountNumber string) (string, error) {
	return "TEST ACCOUNT HOLDER", nil
}

// Payouts returns payout requests the mock has accepted.
func (m *Mock) Payouts() []PayoutRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PayoutRequest, len(m.payouts))
	copy(out, m.payouts)
	return out
}

// Reversals returns transaction refs that were reversed.
func (m *Mock) Reversals() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.reversals))
	copy(out, m.reversals)
	return out
}

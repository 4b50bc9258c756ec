package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/Oltking/hdticketdesk-sub002/internal/idgen"
)

// MemoryStore is an in-memory ledger store for development mode and tests.
// A single mutex serializes appends, which matches the per-organizer
// serialization the Postgres store gets from row locks.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]*Balance
	entries  []*Entry
	sales    map[string]*Entry    // sale reference -> TICKET_SALE entry
	matured  map[string]time.Time // sale entry id -> maturity; entries stay untouched
	nextSeq  int64
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
		sales:    make(map[string]*Entry),
		matured:  make(map[string]time.Time),
	}
}

func (m *MemoryStore) balanceLocked(organizerID string) *Balance {
	bal, ok := m.balances[organizerID]
	if !ok {
		bal = &Balance{OrganizerID: organizerID}
		m.balances[organizerID] = bal
	}
	return bal
}

// appendLocked stamps seq, snapshots and timestamps onto e after the caller
// has adjusted the balance. Caller must hold m.mu.
func (m *MemoryStore) appendLocked(bal *Balance, e *Entry) *Entry {
	m.nextSeq++
	e.Seq = m.nextSeq
	if e.ID == "" {
		e.ID = idgen.WithPrefix("le_")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.PendingAfter = bal.Pending
	e.AvailableAfter = bal.Available
	e.WithdrawnAfter = bal.Withdrawn
	bal.UpdatedAt = e.CreatedAt
	m.entries = append(m.entries, e)
	return e
}

// copyEntryLocked returns a copy of e with MaturedAt attached from the
// maturity map. The stored entry itself never carries it. Caller must hold
// m.mu at least for reading.
func (m *MemoryStore) copyEntryLocked(e *Entry) *Entry {
	cp := *e
	if cp.Type == TypeTicketSale {
		if at, ok := m.matured[cp.ID]; ok {
			matured := at
			cp.MaturedAt = &matured
		}
	}
	return &cp
}

func (m *MemoryStore) GetBalance(ctx context.Context, organizerID string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if bal, ok := m.balances[organizerID]; ok {
		cp := *bal
		return &cp, nil
	}
	return &Balance{OrganizerID: organizerID, UpdatedAt: time.Now()}, nil
}

func (m *MemoryStore) CreditSale(ctx context.Context, credit SaleCredit) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sales[credit.Reference]; exists {
		return nil, ErrDuplicateReference
	}

	bal := m.balanceLocked(credit.OrganizerID)
	bal.Pending += credit.NetAmount

	maturesAt := credit.MaturesAt
	e := m.appendLocked(bal, &Entry{
		OrganizerID:     credit.OrganizerID,
		Type:            TypeTicketSale,
		Amount:          credit.NetAmount,
		Reference:       credit.Reference,
		RelatedTicketID: credit.TicketID,
		Description:     credit.Description,
		MaturesAt:       &maturesAt,
	})
	m.sales[credit.Reference] = e
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) DebitWithdrawal(ctx context.Context, organizerID string, amount int64, withdrawalID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[organizerID]
	if !ok {
		return nil, ErrOrganizerNotFound
	}
	if bal.Available < amount {
		return nil, ErrInsufficientBalance
	}
	bal.Available -= amount
	bal.Withdrawn += amount

	e := m.appendLocked(bal, &Entry{
		OrganizerID:         organizerID,
		Type:                TypeWithdrawal,
		Amount:              amount,
		Reference:           withdrawalID,
		RelatedWithdrawalID: withdrawalID,
		Description:         "withdrawal confirmed",
	})
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) ReverseWithdrawal(ctx context.Context, organizerID string, amount int64, withdrawalID, reason string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[organizerID]
	if !ok {
		return nil, ErrOrganizerNotFound
	}
	bal.Withdrawn -= amount
	bal.Available += amount

	e := m.appendLocked(bal, &Entry{
		OrganizerID:         organizerID,
		Type:                TypeWithdrawalReversal,
		Amount:              amount,
		Reference:           withdrawalID,
		RelatedWithdrawalID: withdrawalID,
		Description:         reason,
	})
	cp := *e
	return &cp, nil
}

// debitSaleLocked implements the shared REFUND/CHARGEBACK logic: pick the
// bucket the sale credit currently occupies and debit it.
func (m *MemoryStore) debitSaleLocked(entryType EntryType, organizerID string, amount int64, saleReference, ticketID, reference, description string) (*Entry, error) {
	sale, ok := m.sales[saleReference]
	if !ok || sale.OrganizerID != organizerID {
		return nil, ErrSaleNotFound
	}

	bal, ok := m.balances[organizerID]
	if !ok {
		return nil, ErrOrganizerNotFound
	}

	bucket := BucketAvailable
	if _, ok := m.matured[sale.ID]; !ok {
		bucket = BucketPending
	}

	switch bucket {
	case BucketPending:
		if bal.Pending < amount {
			return nil, ErrInsufficientBalance
		}
		bal.Pending -= amount
	case BucketAvailable:
		if bal.Available < amount {
			return nil, ErrInsufficientBalance
		}
		bal.Available -= amount
	}

	e := m.appendLocked(bal, &Entry{
		OrganizerID:     organizerID,
		Type:            entryType,
		Amount:          amount,
		DebitBucket:     bucket,
		Reference:       reference,
		SaleReference:   saleReference,
		RelatedTicketID: ticketID,
		Description:     description,
	})
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) DebitRefund(ctx context.Context, organizerID string, amount int64, saleReference, ticketID, refundID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debitSaleLocked(TypeRefund, organizerID, amount, saleReference, ticketID, refundID, "refund processed")
}

func (m *MemoryStore) Chargeback(ctx context.Context, organizerID string, amount int64, saleReference, reason string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debitSaleLocked(TypeChargeback, organizerID, amount, saleReference, "", idgen.WithPrefix("cb_"), reason)
}

// pendingDebitsLocked sums REFUND/CHARGEBACK amounts that were taken out of
// pending against the given sale. Those amounts must not mature.
func (m *MemoryStore) pendingDebitsLocked(saleReference string) int64 {
	var sum int64
	for _, e := range m.entries {
		if (e.Type == TypeRefund || e.Type == TypeChargeback) &&
			e.SaleReference == saleReference && e.DebitBucket == BucketPending {
			sum += e.Amount
		}
	}
	return sum
}

func (m *MemoryStore) MatureDue(ctx context.Context, now time.Time) ([]MaturedBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type due struct {
		amount int64
		sales  int
	}
	perOrganizer := make(map[string]*due)
	var order []string

	for _, sale := range m.entries {
		if sale.Type != TypeTicketSale {
			continue
		}
		if _, done := m.matured[sale.ID]; done {
			continue
		}
		if sale.MaturesAt == nil || sale.MaturesAt.After(now) {
			continue
		}
		remaining := sale.Amount - m.pendingDebitsLocked(sale.Reference)
		// Maturity is recorded beside the entry, never on it.
		m.matured[sale.ID] = now
		d, ok := perOrganizer[sale.OrganizerID]
		if !ok {
			d = &due{}
			perOrganizer[sale.OrganizerID] = d
			order = append(order, sale.OrganizerID)
		}
		if remaining > 0 {
			d.amount += remaining
		}
		d.sales++
	}

	var batches []MaturedBatch
	for _, org := range order {
		d := perOrganizer[org]
		if d.amount <= 0 {
			continue
		}
		bal := m.balanceLocked(org)
		bal.Pending -= d.amount
		bal.Available += d.amount
		m.appendLocked(bal, &Entry{
			OrganizerID: org,
			Type:        TypeMaturation,
			Amount:      d.amount,
			Description: "sale credits matured",
		})
		batches = append(batches, MaturedBatch{OrganizerID: org, Amount: d.amount, Sales: d.sales})
	}
	return batches, nil
}

func (m *MemoryStore) FindSale(ctx context.Context, reference string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sale, ok := m.sales[reference]
	if !ok {
		return nil, ErrSaleNotFound
	}
	return m.copyEntryLocked(sale), nil
}

func (m *MemoryStore) FindWithdrawal(ctx context.Context, withdrawalID string) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var debit *Entry
	reversed := false
	for _, e := range m.entries {
		if e.RelatedWithdrawalID != withdrawalID {
			continue
		}
		switch e.Type {
		case TypeWithdrawal:
			cp := *e
			debit = &cp
		case TypeWithdrawalReversal:
			reversed = true
		}
	}
	if debit == nil {
		return nil, false, ErrEntryNotFound
	}
	return debit, reversed, nil
}

func (m *MemoryStore) ListEntries(ctx context.Context, organizerID string, afterSeq int64, limit int) ([]*Entry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int
	var out []*Entry
	for _, e := range m.entries {
		if e.OrganizerID != organizerID {
			continue
		}
		total++
		if e.Seq <= afterSeq || len(out) >= limit {
			continue
		}
		out = append(out, m.copyEntryLocked(e))
	}
	return out, total, nil
}

func (m *MemoryStore) AllEntries(ctx context.Context, organizerID string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for _, e := range m.entries {
		if e.OrganizerID == organizerID {
			out = append(out, m.copyEntryLocked(e))
		}
	}
	return out, nil
}

func (m *MemoryStore) Organizers(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, e := range m.entries {
		if !seen[e.OrganizerID] {
			seen[e.OrganizerID] = true
			out = append(out, e.OrganizerID)
		}
	}
	return out, nil
}

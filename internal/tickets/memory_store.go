package tickets

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory ticket store for development mode and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	tickets   map[string]*Ticket
	byNumber  map[string]string // number -> id
	codes     map[string]*AgentCode
	codeIndex map[string]string // eventID+"/"+code -> id
}

// NewMemoryStore creates an empty in-memory ticket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:   make(map[string]*Ticket),
		byNumber:  make(map[string]string),
		codes:     make(map[string]*AgentCode),
		codeIndex: make(map[string]string),
	}
}

func (m *MemoryStore) InsertTickets(ctx context.Context, ts []*Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range ts {
		m.tickets[t.ID] = t
		m.byNumber[t.Number] = t.ID
	}
	return nil
}

func (m *MemoryStore) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	copied := *t
	return &copied, nil
}

func (m *MemoryStore) GetByNumber(ctx context.Context, number string) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byNumber[number]
	if !ok {
		return nil, ErrTicketNotFound
	}
	copied := *m.tickets[id]
	return &copied, nil
}

func (m *MemoryStore) ListByPayment(ctx context.Context, reference string) ([]*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Ticket
	for _, t := range m.tickets {
		if t.PaymentReference == reference {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *MemoryStore) CheckIn(ctx context.Context, ticketID, eventID, agentCodeID string, now time.Time) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[ticketID]
	if !ok {
		return nil, ErrTicketNotFound
	}
	if t.EventID != eventID {
		return nil, ErrEventMismatch
	}
	if t.Status != StatusActive {
		return nil, StatusError(t.Status)
	}

	// Resolve the agent code before touching the ticket; a bad code must
	// not leave a half-applied check-in.
	var code *AgentCode
	if agentCodeID != "" {
		code, ok = m.codes[agentCodeID]
		if !ok {
			return nil, ErrAgentCodeNotFound
		}
	}

	t.Status = StatusCheckedIn
	t.CheckedInAt = &now
	t.CheckedInBy = agentCodeID

	if code != nil {
		if code.ActivatedAt == nil {
			code.ActivatedAt = &now
		}
		code.LastUsedAt = &now
		code.CheckInCount++
	}

	copied := *t
	return &copied, nil
}

func (m *MemoryStore) MarkRefunded(ctx context.Context, ticketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return ErrTicketNotFound
	}
	if t.Status != StatusActive {
		return StatusError(t.Status)
	}
	t.Status = StatusRefunded
	return nil
}

func (m *MemoryStore) CountIssued(ctx context.Context, tierID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, t := range m.tickets {
		if t.TierID == tierID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CreateAgentCode(ctx context.Context, code *AgentCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[code.ID] = code
	m.codeIndex[code.EventID+"/"+code.Code] = code.ID
	return nil
}

func (m *MemoryStore) GetAgentCode(ctx context.Context, id string) (*AgentCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.codes[id]
	if !ok {
		return nil, ErrAgentCodeNotFound
	}
	copied := *code
	return &copied, nil
}

func (m *MemoryStore) FindAgentCode(ctx context.Context, eventID, code string) (*AgentCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.codeIndex[eventID+"/"+code]
	if !ok {
		return nil, ErrAgentCodeNotFound
	}
	copied := *m.codes[id]
	return &copied, nil
}

func (m *MemoryStore) ListAgentCodes(ctx context.Context, eventID string) ([]*AgentCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*AgentCode
	for _, code := range m.codes {
		if code.EventID == eventID {
			copied := *code
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *MemoryStore) DeactivateAgentCode(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[id]
	if !ok {
		return ErrAgentCodeNotFound
	}
	code.Active = false
	return nil
}

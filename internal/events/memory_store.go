package events

import (
	"context"
	"sync"
	"time"

	"github.com/Oltking/hdticketdesk-sub002/internal/idgen"
)

// MemoryStore is an in-memory event store for development mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*Event
	tiers  map[string]*Tier
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*Event),
		tiers:  make(map[string]*Tier),
	}
}

// AddEvent inserts an event record, stamping an id when missing.
func (m *MemoryStore) AddEvent(e *Event) *Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = idgen.WithPrefix("evt_")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.events[e.ID] = e
	return e
}

// AddTier inserts a tier record, stamping an id when missing.
func (m *MemoryStore) AddTier(t *Tier) *Tier {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = idgen.WithPrefix("tier_")
	}
	m.tiers[t.ID] = t
	return t
}

func (m *MemoryStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	copied := *e
	return &copied, nil
}

func (m *MemoryStore) GetTier(ctx context.Context, id string) (*Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tiers[id]
	if !ok {
		return nil, ErrTierNotFound
	}
	copied := *t
	return &copied, nil
}

func (m *MemoryStore) TiersForEvent(ctx context.Context, eventID string) ([]*Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Tier
	for _, t := range m.tiers {
		if t.EventID == eventID {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

// SeedDev loads a small fixture set so dev mode has something to sell.
func SeedDev(store *MemoryStore) {
	ev := store.AddEvent(&Event{
		ID:          "evt_dev_1",
		OrganizerID: "org_dev_1",
		Name:        "Riverside Music Night",
		Venue:       "Riverside Hall",
		StartsAt:    time.Now().Add(14 * 24 * time.Hour),
	})
	store.AddTier(&Tier{
		ID:         "tier_dev_ga",
		EventID:    ev.ID,
		Name:       "General Admission",
		Price:      25000,
		Capacity:   500,
		Refundable: true,
	})
	store.AddTier(&Tier{
		ID:         "tier_dev_vip",
		EventID:    ev.ID,
		Name:       "VIP",
		Price:      75000,
		Capacity:   50,
		Refundable: false,
	})
}

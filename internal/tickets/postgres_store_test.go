//go:build integration

package tickets

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	cleanup := func() {
		db.ExecContext(ctx, "DELETE FROM tickets")
		db.ExecContext(ctx, "DELETE FROM agent_codes")
		db.Close()
	}

	return store, cleanup
}

func TestPostgresTickets_ConcurrentCheckInSingleWinner(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	ts := Issue{
		EventID:          "evt_pg1",
		TierID:           "tier_pg1",
		OrganizerID:      "org_pg1",
		PaymentReference: "PG-PAY-100",
		Quantity:         1,
	}.Build()
	if err := store.InsertTickets(ctx, ts); err != nil {
		t.Fatalf("InsertTickets failed: %v", err)
	}

	const attempts = 50
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CheckIn(ctx, ts[0].ID, "evt_pg1", "", time.Now())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	winners := 0
	for err := range errs {
		if err == nil {
			winners++
		} else if err != ErrAlreadyCheckedIn {
			t.Errorf("Unexpected loser error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("Expected exactly 1 winner, got %d", winners)
	}
}

func TestPostgresTickets_AgentCodeStats(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	ts := Issue{
		EventID:          "evt_pg2",
		TierID:           "tier_pg2",
		OrganizerID:      "org_pg2",
		PaymentReference: "PG-PAY-101",
		Quantity:         2,
	}.Build()
	if err := store.InsertTickets(ctx, ts); err != nil {
		t.Fatalf("InsertTickets failed: %v", err)
	}

	code := NewAgentCode("evt_pg2", "gate")
	if err := store.CreateAgentCode(ctx, code); err != nil {
		t.Fatalf("CreateAgentCode failed: %v", err)
	}

	for _, tk := range ts {
		if _, err := store.CheckIn(ctx, tk.ID, "evt_pg2", code.ID, time.Now()); err != nil {
			t.Fatalf("CheckIn failed: %v", err)
		}
	}

	got, err := store.GetAgentCode(ctx, code.ID)
	if err != nil {
		t.Fatalf("GetAgentCode failed: %v", err)
	}
	if got.CheckInCount != 2 {
		t.Errorf("Expected check-in count 2, got %d", got.CheckInCount)
	}
	if got.ActivatedAt == nil || got.LastUsedAt == nil {
		t.Error("Expected activated_at and last_used_at to be set")
	}
}

func TestPostgresTickets_MarkRefunded(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	ts := Issue{
		EventID:          "evt_pg3",
		TierID:           "tier_pg3",
		OrganizerID:      "org_pg3",
		PaymentReference: "PG-PAY-102",
		Quantity:         1,
	}.Build()
	if err := store.InsertTickets(ctx, ts); err != nil {
		t.Fatalf("InsertTickets failed: %v", err)
	}

	if err := store.MarkRefunded(ctx, ts[0].ID); err != nil {
		t.Fatalf("MarkRefunded failed: %v", err)
	}
	if err := store.MarkRefunded(ctx, ts[0].ID); err != ErrTicketRefunded {
		t.Errorf("Expected ErrTicketRefunded on second refund, got %v", err)
	}

	if _, err := store.CheckIn(ctx, ts[0].ID, "evt_pg3", "", time.Now()); err != ErrTicketRefunded {
		t.Errorf("Expected ErrTicketRefunded on check-in, got %v", err)
	}
}

//go:build integration

package payments

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/Oltking/hdticketdesk-sub002/internal/ledger"
	"github.com/Oltking/hdticketdesk-sub002/internal/tickets"
)

func setupTestDB(t *testing.T) (*sql.DB, *PostgresStore, func()) {
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
		t.Fatalf("Failed to migrate payments: %v", err)
	}
	if err := tickets.NewPostgresStore(db).Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate tickets: %v", err)
	}
	if err := ledger.NewPostgresStore(db).Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate ledger: %v", err)
	}

	cleanup := func() {
		db.ExecContext(ctx, "DELETE FROM payments")
		db.ExecContext(ctx, "DELETE FROM tickets")
		db.ExecContext(ctx, "DELETE FROM ledger_entries")
		db.ExecContext(ctx, "DELETE FROM organizer_balances")
		db.Close()
	}
	return db, store, cleanup
}

func seedPayment(t *testing.T, store *PostgresStore, reference string) *Payment {
	t.Helper()
	now := time.Now()
	p := &Payment{
		Reference:   reference,
		OrganizerID: "org_pgpay",
		EventID:     "evt_pgpay",
		TierID:      "tier_pgpay",
		Quantity:    1,
		Amount:      25000,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.Create(context.Background(), p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return p
}

func TestPostgresPayments_SettleOnce(t *testing.T) {
	db, store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p := seedPayment(t, store, "PG-SETTLE-1")
	settler := NewPostgresSettler(db)

	settlement := Settlement{
		PaidAmount: 25000, FeeAmount: 1250, NetAmount: 23750,
		TransactionRef: "txn_1", VerifiedAt: time.Now(),
	}
	issue := tickets.Issue{
		EventID: p.EventID, TierID: p.TierID, OrganizerID: p.OrganizerID,
		PaymentReference: p.Reference, Quantity: 1,
	}
	credit := ledger.SaleCredit{
		OrganizerID: p.OrganizerID, NetAmount: 23750,
		Reference: p.Reference, MaturesAt: time.Now().Add(time.Hour),
	}

	issued, entry, err := settler.SettleSuccess(ctx, p.Reference, settlement, issue, credit)
	if err != nil {
		t.Fatalf("SettleSuccess failed: %v", err)
	}
	if len(issued) != 1 || entry == nil {
		t.Fatalf("Expected 1 ticket and an entry, got %d / %v", len(issued), entry)
	}

	// Second settlement attempt must lose the CAS, with no duplicates.
	if _, _, err := settler.SettleSuccess(ctx, p.Reference, settlement, issue, credit); err != ErrAlreadySettled {
		t.Errorf("Expected ErrAlreadySettled, got %v", err)
	}

	got, err := store.Get(ctx, p.Reference)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusSuccess || got.NetAmount != 23750 {
		t.Errorf("Unexpected payment after settle: %+v", got)
	}

	var ticketCount int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tickets WHERE payment_reference = $1", p.Reference).Scan(&ticketCount); err != nil {
		t.Fatalf("ticket count failed: %v", err)
	}
	if ticketCount != 1 {
		t.Errorf("Expected 1 ticket, got %d", ticketCount)
	}
}

func TestPostgresPayments_StateGuards(t *testing.T) {
	_, store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p := seedPayment(t, store, "PG-GUARD-1")

	if err := store.Create(ctx, p); err != ErrPaymentExists {
		t.Errorf("Expected ErrPaymentExists, got %v", err)
	}
	if err := store.MarkRefunded(ctx, p.Reference); err != ErrAlreadySettled {
		t.Errorf("Expected ErrAlreadySettled refunding a PENDING payment, got %v", err)
	}
	if err := store.MarkFailed(ctx, p.Reference, "gateway reported failure"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if err := store.MarkFailed(ctx, p.Reference, "again"); err != ErrAlreadySettled {
		t.Errorf("Expected ErrAlreadySettled on second fail, got %v", err)
	}
	if err := store.MarkFailed(ctx, "PG-GHOST", "x"); err != ErrPaymentNotFound {
		t.Errorf("Expected ErrPaymentNotFound, got %v", err)
	}
}

func TestPostgresPayments_ListPendingSkipsReviewFlagged(t *testing.T) {
	_, store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	a := seedPayment(t, store, "PG-LIST-1")
	b := seedPayment(t, store, "PG-LIST-2")

	if err := store.FlagReview(ctx, b.Reference, "amount mismatch", 20000); err != nil {
		t.Fatalf("FlagReview failed: %v", err)
	}

	pending, err := store.ListPending(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Reference != a.Reference {
		t.Errorf("Expected only %s pending, got %+v", a.Reference, pending)
	}
}

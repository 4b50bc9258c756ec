//go:build integration

package ledger

import (
	"context"
	"database/sql"
	"os"
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
		db.ExecContext(ctx, "DELETE FROM sale_maturations")
		db.ExecContext(ctx, "DELETE FROM ledger_entries")
		db.ExecContext(ctx, "DELETE FROM organizer_balances")
		db.Close()
	}

	return store, cleanup
}

func TestPostgresLedger_SaleLifecycle(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	e, err := store.CreditSale(ctx, SaleCredit{
		OrganizerID: "org_pg1",
		NetAmount:   23750,
		Reference:   "PG-PAY-001",
		TicketID:    "tkt_pg1",
		MaturesAt:   now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("CreditSale failed: %v", err)
	}
	if e.PendingAfter != 23750 {
		t.Errorf("Expected pending snapshot 23750, got %d", e.PendingAfter)
	}

	if _, err := store.CreditSale(ctx, SaleCredit{
		OrganizerID: "org_pg1",
		NetAmount:   23750,
		Reference:   "PG-PAY-001",
		MaturesAt:   now,
	}); err != ErrDuplicateReference {
		t.Errorf("Expected ErrDuplicateReference, got %v", err)
	}

	batches, err := store.MatureDue(ctx, now)
	if err != nil {
		t.Fatalf("MatureDue failed: %v", err)
	}
	if len(batches) != 1 || batches[0].Amount != 23750 {
		t.Errorf("Unexpected maturation batches: %+v", batches)
	}

	if _, err := store.DebitWithdrawal(ctx, "org_pg1", 30000, "wd_pg1"); err != ErrInsufficientBalance {
		t.Errorf("Expected ErrInsufficientBalance, got %v", err)
	}

	if _, err := store.DebitWithdrawal(ctx, "org_pg1", 20000, "wd_pg1"); err != nil {
		t.Fatalf("DebitWithdrawal failed: %v", err)
	}
	if _, err := store.ReverseWithdrawal(ctx, "org_pg1", 20000, "wd_pg1", "payout failed"); err != nil {
		t.Fatalf("ReverseWithdrawal failed: %v", err)
	}

	bal, err := store.GetBalance(ctx, "org_pg1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if bal.Available != 23750 || bal.Withdrawn != 0 {
		t.Errorf("Unexpected balance after reversal: %+v", bal)
	}

	result, err := New(store).Replay(ctx, "org_pg1")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !result.Match {
		t.Errorf("Replay mismatches: %+v", result.Mismatches)
	}
}

func TestPostgresLedger_RefundBucketSelection(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	if _, err := store.CreditSale(ctx, SaleCredit{
		OrganizerID: "org_pg2",
		NetAmount:   5000,
		Reference:   "PG-PAY-010",
		MaturesAt:   now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("CreditSale failed: %v", err)
	}

	e, err := store.DebitRefund(ctx, "org_pg2", 2000, "PG-PAY-010", "", "rf_pg1")
	if err != nil {
		t.Fatalf("DebitRefund failed: %v", err)
	}
	if e.DebitBucket != BucketPending {
		t.Errorf("Expected pending debit before maturation, got %s", e.DebitBucket)
	}

	if _, err := store.MatureDue(ctx, now.Add(2*time.Hour)); err != nil {
		t.Fatalf("MatureDue failed: %v", err)
	}

	bal, err := store.GetBalance(ctx, "org_pg2")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if bal.Pending != 0 || bal.Available != 3000 {
		t.Errorf("Expected 0 pending / 3000 available, got %+v", bal)
	}

	e, err = store.DebitRefund(ctx, "org_pg2", 1000, "PG-PAY-010", "", "rf_pg2")
	if err != nil {
		t.Fatalf("DebitRefund after maturation failed: %v", err)
	}
	if e.DebitBucket != BucketAvailable {
		t.Errorf("Expected available debit after maturation, got %s", e.DebitBucket)
	}
}

func TestPostgresLedger_ListEntries(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for i, ref := range []string{"PG-L-1", "PG-L-2", "PG-L-3"} {
		_, err := store.CreditSale(ctx, SaleCredit{
			OrganizerID: "org_pg3",
			NetAmount:   int64(1000 * (i + 1)),
			Reference:   ref,
			MaturesAt:   time.Now().Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("CreditSale failed: %v", err)
		}
	}

	entries, total, err := store.ListEntries(ctx, "org_pg3", 0, 2)
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if total != 3 || len(entries) != 2 {
		t.Errorf("Expected total 3 and 2 entries, got total %d len %d", total, len(entries))
	}

	rest, _, err := store.ListEntries(ctx, "org_pg3", entries[1].Seq, 10)
	if err != nil {
		t.Fatalf("ListEntries page 2 failed: %v", err)
	}
	if len(rest) != 1 {
		t.Errorf("Expected 1 remaining entry, got %d", len(rest))
	}
}

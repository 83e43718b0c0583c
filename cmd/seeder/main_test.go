package main

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/punchamoorthee/docledger/internal/store/postgres"
	"github.com/punchamoorthee/docledger/internal/store/storetest"
)

func TestSeedCompletesPartialRun(t *testing.T) {
	dsn := os.Getenv("TEST_DB_SOURCE")
	if dsn == "" {
		t.Skip("TEST_DB_SOURCE not set")
	}
	ctx := context.Background()
	st, err := postgres.New(ctx, dsn, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := st.Db.Exec(ctx, "TRUNCATE TABLE idempotency_keys, ledger_entries, requests, accounts RESTART IDENTITY CASCADE"); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	for _, tc := range []struct{ total, want int64 }{{3, 3}, {5, 2}, {5, 0}} {
		n, err := seed(ctx, st, int(tc.total), 10)
		if err != nil {
			t.Fatalf("seed(%d): %v", tc.total, err)
		}
		if n != tc.want {
			t.Errorf("seed(%d) inserted %d, want %d", tc.total, n, tc.want)
		}
	}

	var accounts, welcomes int
	if err := st.Db.QueryRow(ctx, "SELECT COUNT(*) FROM accounts").Scan(&accounts); err != nil {
		t.Fatalf("count accounts: %v", err)
	}
	if err := st.Db.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_entries WHERE reason = 'welcome'").Scan(&welcomes); err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if accounts != 5 || welcomes != 5 {
		t.Errorf("accounts = %d, welcome entries = %d, want 5 each", accounts, welcomes)
	}
	for i := 0; i < 5; i++ {
		storetest.AssertBalanceMatchesLedger(t, st, fmt.Sprintf(IdentityPattern, i))
	}
}

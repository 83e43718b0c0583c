// Package storetest holds behavioural tests shared by every store.Store
// implementation.
package storetest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/punchamoorthee/docledger/internal/domain"
	"github.com/punchamoorthee/docledger/internal/store"
)

// Factory returns a fresh, migrated store whose new accounts start with
// startingCredits.
type Factory func(t *testing.T, startingCredits int64) store.Store

// Run executes the full suite against the stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("FirstContactWelcome", func(t *testing.T) { testFirstContact(t, newStore) })
	t.Run("DebitLifecycle", func(t *testing.T) { testDebitLifecycle(t, newStore) })
	t.Run("DebitRejections", func(t *testing.T) { testDebitRejections(t, newStore) })
	t.Run("Grant", func(t *testing.T) { testGrant(t, newStore) })
	t.Run("MarkSentRequiresDebit", func(t *testing.T) { testMarkSentRequiresDebit(t, newStore) })
	t.Run("ConcurrentDebits", func(t *testing.T) { testConcurrentDebits(t, newStore) })
	t.Run("ConcurrentFirstContact", func(t *testing.T) { testConcurrentFirstContact(t, newStore) })
	t.Run("IdempotentReplay", func(t *testing.T) { testIdempotentReplay(t, newStore) })
	t.Run("IdempotencyKeyLifecycle", func(t *testing.T) { testIdempotencyKeyLifecycle(t, newStore) })
}

// AssertBalanceMatchesLedger fails t if balance != Σ delta for acc.
func AssertBalanceMatchesLedger(t *testing.T, s store.Ledger, identity string) {
	t.Helper()
	ctx := context.Background()
	acc, err := s.GetAccount(ctx, identity)
	if err != nil {
		t.Fatalf("GetAccount(%s): %v", identity, err)
	}
	entries, err := s.Entries(ctx, acc.ID)
	if err != nil {
		t.Fatalf("Entries(%d): %v", acc.ID, err)
	}
	var sum int64
	for _, e := range entries {
		sum += e.Delta
	}
	if sum != acc.Balance {
		t.Fatalf("balance %d != ledger sum %d for %s", acc.Balance, sum, identity)
	}
	if acc.Balance < 0 {
		t.Fatalf("negative balance %d for %s", acc.Balance, identity)
	}
}

func testFirstContact(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, 3)

	acc, err := s.GetOrCreateAccount(ctx, "+393331234567")
	if err != nil {
		t.Fatalf("GetOrCreateAccount: %v", err)
	}
	if acc.Balance != 3 {
		t.Errorf("balance = %d, want 3", acc.Balance)
	}

	again, err := s.GetOrCreateAccount(ctx, "+393331234567")
	if err != nil {
		t.Fatalf("second GetOrCreateAccount: %v", err)
	}
	if again.ID != acc.ID {
		t.Errorf("second contact created a new account: %d vs %d", again.ID, acc.ID)
	}

	entries, err := s.Entries(ctx, acc.ID)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Reason != domain.ReasonWelcome || entries[0].Delta != 3 {
		t.Fatalf("expected one welcome entry of 3, got %+v", entries)
	}

	if _, err := s.GetAccount(ctx, "+390000000000"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetAccount(unknown) error = %v, want ErrNotFound", err)
	}
	AssertBalanceMatchesLedger(t, s, "+393331234567")
}

func testDebitLifecycle(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, 1)

	acc, _ := s.GetOrCreateAccount(ctx, "+391111111111")
	reqID, err := s.CreateDraft(ctx, acc.ID, "testo estratto", "image-ocr", 0)
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	result := domain.Classification{Category: "bolletta", Risk: "basso", Summary: "ok"}
	if err := s.AttachResult(ctx, reqID, result); err != nil {
		t.Fatalf("AttachResult: %v", err)
	}

	updated, err := s.Debit(ctx, acc.ID, 1, reqID)
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if updated.Balance != 0 {
		t.Errorf("balance after debit = %d, want 0", updated.Balance)
	}
	if err := s.MarkSent(ctx, reqID); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	req, err := s.GetRequest(ctx, reqID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if req.Status != domain.RequestSent || req.SentAt == nil {
		t.Errorf("request not sent: %+v", req)
	}
	if req.Result == nil || req.Result.Category != "bolletta" {
		t.Errorf("result not attached: %+v", req.Result)
	}
	if req.Cost != 1 || req.Source != "image-ocr" || req.ExtractedText != "testo estratto" {
		t.Errorf("unexpected request fields: %+v", req)
	}

	entries, _ := s.Entries(ctx, acc.ID)
	var usage []domain.LedgerEntry
	for _, e := range entries {
		if e.Reason == domain.ReasonUsage {
			usage = append(usage, e)
		}
	}
	if len(usage) != 1 || usage[0].Delta != -1 || usage[0].RequestID != reqID {
		t.Fatalf("expected one usage entry -1 for %s, got %+v", reqID, usage)
	}

	if err := s.MarkSent(ctx, reqID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("second MarkSent error = %v, want ErrInvalidTransition", err)
	}
	if err := s.AttachResult(ctx, reqID, result); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("AttachResult on sent request error = %v, want ErrInvalidTransition", err)
	}
	AssertBalanceMatchesLedger(t, s, "+391111111111")
}

func testDebitRejections(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, 1)

	acc, _ := s.GetOrCreateAccount(ctx, "+392222222222")
	reqID, _ := s.CreateDraft(ctx, acc.ID, "testo", "direct-text", 2)

	if _, err := s.Debit(ctx, acc.ID, 2, reqID); !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Errorf("Debit over balance error = %v, want ErrInsufficientCredits", err)
	}
	if _, err := s.Debit(ctx, acc.ID, 0, reqID); !domain.IsValidation(err) {
		t.Errorf("Debit of zero error = %v, want ValidationError", err)
	}
	if _, err := s.Debit(ctx, acc.ID, 1, domain.NewRequestID()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Debit for unknown request error = %v, want ErrNotFound", err)
	}

	if _, err := s.SetBlocked(ctx, acc.ID, true); err != nil {
		t.Fatalf("SetBlocked: %v", err)
	}
	if _, err := s.Debit(ctx, acc.ID, 1, reqID); !errors.Is(err, domain.ErrAccountBlocked) {
		t.Errorf("Debit on blocked account error = %v, want ErrAccountBlocked", err)
	}
	if _, err := s.SetBlocked(ctx, acc.ID, false); err != nil {
		t.Fatalf("SetBlocked: %v", err)
	}

	if _, err := s.Debit(ctx, acc.ID, 1, reqID); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if _, err := s.Grant(ctx, acc.ID, 5, domain.ReasonManualTopup); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := s.Debit(ctx, acc.ID, 1, reqID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("double Debit for one request error = %v, want ErrInvalidTransition", err)
	}

	entries, _ := s.Entries(ctx, acc.ID)
	if len(entries) != 3 {
		t.Errorf("expected welcome, usage, topup entries, got %+v", entries)
	}
	AssertBalanceMatchesLedger(t, s, "+392222222222")
}

func testGrant(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, 0)

	acc, _ := s.GetOrCreateAccount(ctx, "+393333333333")
	updated, err := s.Grant(ctx, acc.ID, 10, domain.ReasonPartnerCode)
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if updated.Balance != 10 {
		t.Errorf("balance = %d, want 10", updated.Balance)
	}

	for _, tc := range []struct {
		amount int64
		reason domain.Reason
	}{
		{0, domain.ReasonManualTopup},
		{-5, domain.ReasonManualTopup},
		{5, domain.ReasonUsage},
		{5, domain.ReasonWelcome},
		{5, domain.Reason("gift")},
	} {
		if _, err := s.Grant(ctx, acc.ID, tc.amount, tc.reason); !domain.IsValidation(err) {
			t.Errorf("Grant(%d, %s) error = %v, want ValidationError", tc.amount, tc.reason, err)
		}
	}
	if _, err := s.Grant(ctx, 987654, 1, domain.ReasonManualTopup); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Grant on unknown account error = %v, want ErrNotFound", err)
	}
	AssertBalanceMatchesLedger(t, s, "+393333333333")
}

func testMarkSentRequiresDebit(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, 1)

	acc, _ := s.GetOrCreateAccount(ctx, "+394444444444")
	reqID, _ := s.CreateDraft(ctx, acc.ID, "testo", "direct-text", 1)

	if err := s.MarkSent(ctx, reqID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("MarkSent without debit error = %v, want ErrInvalidTransition", err)
	}
	req, _ := s.GetRequest(ctx, reqID)
	if req.Status != domain.RequestDraft || req.Result != nil {
		t.Errorf("request changed: %+v", req)
	}
	if _, err := s.GetRequest(ctx, domain.NewRequestID()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetRequest(unknown) error = %v, want ErrNotFound", err)
	}
	n, err := s.CountRequests(ctx, acc.ID)
	if err != nil || n != 1 {
		t.Errorf("CountRequests = %d, %v; want 1", n, err)
	}
}

func testConcurrentDebits(t *testing.T, newStore Factory) {
	ctx := context.Background()
	const workers = 16
	const credits = 3

	s := newStore(t, credits)
	acc, _ := s.GetOrCreateAccount(ctx, "+395555555555")

	ids := make([]string, workers)
	for i := range ids {
		id, err := s.CreateDraft(ctx, acc.ID, fmt.Sprintf("doc %d", i), "direct-text", 1)
		if err != nil {
			t.Fatalf("CreateDraft: %v", err)
		}
		ids[i] = id
	}

	var ok, short atomic.Int32
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.Debit(ctx, acc.ID, 1, id)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrInsufficientCredits):
				short.Add(1)
			default:
				t.Errorf("Debit: %v", err)
			}
		}(id)
	}
	wg.Wait()

	if ok.Load() != credits {
		t.Errorf("successful debits = %d, want %d", ok.Load(), credits)
	}
	if short.Load() != workers-credits {
		t.Errorf("rejected debits = %d, want %d", short.Load(), workers-credits)
	}
	AssertBalanceMatchesLedger(t, s, "+395555555555")
}

func testConcurrentFirstContact(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.GetOrCreateAccount(ctx, "+396666666666"); err != nil {
				t.Errorf("GetOrCreateAccount: %v", err)
			}
		}()
	}
	wg.Wait()

	acc, err := s.GetAccount(ctx, "+396666666666")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	entries, _ := s.Entries(ctx, acc.ID)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one welcome entry, got %d", len(entries))
	}
	AssertBalanceMatchesLedger(t, s, "+396666666666")
}

func usageEntries(t *testing.T, s store.Ledger, accountID int64) []domain.LedgerEntry {
	t.Helper()
	entries, err := s.Entries(context.Background(), accountID)
	if err != nil {
		t.Fatalf("Entries(%d): %v", accountID, err)
	}
	var usage []domain.LedgerEntry
	for _, e := range entries {
		if e.Reason == domain.ReasonUsage {
			usage = append(usage, e)
		}
	}
	return usage
}

func testIdempotentReplay(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, 5)
	acc, _ := s.GetOrCreateAccount(ctx, "+397777777777")

	// submit charges once per fresh key and replays the stored body otherwise.
	submit := func(key, hash string) ([]byte, bool) {
		t.Helper()
		rec, err := s.ReserveKey(ctx, key, hash)
		if err != nil {
			t.Fatalf("ReserveKey: %v", err)
		}
		if rec != nil {
			return rec.ResponseBody, true
		}
		reqID, err := s.CreateDraft(ctx, acc.ID, "testo", "direct-text", 0)
		if err != nil {
			t.Fatalf("CreateDraft: %v", err)
		}
		if _, err := s.Debit(ctx, acc.ID, 1, reqID); err != nil {
			t.Fatalf("Debit: %v", err)
		}
		if err := s.MarkSent(ctx, reqID); err != nil {
			t.Fatalf("MarkSent: %v", err)
		}
		body := []byte(fmt.Sprintf(`{"ok":true,"request_id":%q}`, reqID))
		if err := s.CompleteKey(ctx, key, 200, body); err != nil {
			t.Fatalf("CompleteKey: %v", err)
		}
		return body, false
	}

	first, replayed := submit("retry-1", "hash-a")
	if replayed {
		t.Fatal("first submission was replayed")
	}
	second, replayed := submit("retry-1", "hash-a")
	if !replayed {
		t.Fatal("second submission was charged again")
	}
	if !bytes.Equal(compactJSON(t, first), compactJSON(t, second)) {
		t.Errorf("replayed body = %s, want %s", second, first)
	}

	if usage := usageEntries(t, s, acc.ID); len(usage) != 1 {
		t.Fatalf("expected one usage entry for two keyed submissions, got %+v", usage)
	}
	updated, _ := s.GetAccount(ctx, "+397777777777")
	if updated.Balance != 4 {
		t.Errorf("balance = %d, want 4", updated.Balance)
	}

	if _, err := s.ReserveKey(ctx, "retry-1", "hash-b"); !errors.Is(err, domain.ErrIdempotencyMismatch) {
		t.Errorf("ReserveKey with another payload error = %v, want ErrIdempotencyMismatch", err)
	}
	AssertBalanceMatchesLedger(t, s, "+397777777777")
}

func testIdempotencyKeyLifecycle(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, 1)

	if rec, err := s.ReserveKey(ctx, "k", "h"); err != nil || rec != nil {
		t.Fatalf("ReserveKey = %+v, %v; want nil, nil", rec, err)
	}
	if _, err := s.ReserveKey(ctx, "k", "h"); !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Errorf("ReserveKey while in progress error = %v, want ErrIdempotencyConflict", err)
	}

	if err := s.ReleaseKey(ctx, "k"); err != nil {
		t.Fatalf("ReleaseKey: %v", err)
	}
	if rec, err := s.ReserveKey(ctx, "k", "h"); err != nil || rec != nil {
		t.Fatalf("ReserveKey after release = %+v, %v; want nil, nil", rec, err)
	}
	if err := s.CompleteKey(ctx, "k", 200, []byte(`{"ok":false}`)); err != nil {
		t.Fatalf("CompleteKey: %v", err)
	}
	if err := s.CompleteKey(ctx, "k", 200, []byte(`{"ok":false}`)); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("second CompleteKey error = %v, want ErrInvalidTransition", err)
	}

	// Completed keys survive a release.
	if err := s.ReleaseKey(ctx, "k"); err != nil {
		t.Fatalf("ReleaseKey: %v", err)
	}
	rec, err := s.ReserveKey(ctx, "k", "h")
	if err != nil || rec == nil || !rec.Completed || rec.ResponseStatus != 200 {
		t.Fatalf("ReserveKey on completed key = %+v, %v", rec, err)
	}

	if err := s.CompleteKey(ctx, "missing", 200, []byte(`{}`)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("CompleteKey(unknown) error = %v, want ErrNotFound", err)
	}
}

// compactJSON normalises whitespace, which JSONB does not preserve.
func compactJSON(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		t.Fatalf("compact %s: %v", b, err)
	}
	return buf.Bytes()
}

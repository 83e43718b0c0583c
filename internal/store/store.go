// Package store defines the persistence contracts for the account ledger and
// the analysis request lifecycle. Implementations live in the postgres and
// memory subpackages.
package store

import (
	"context"

	"github.com/punchamoorthee/docledger/internal/domain"
)

// Ledger owns every mutation of accounts and ledger entries. Each mutating
// call is one atomic transaction: the balance change and its ledger entry
// commit together or not at all.
type Ledger interface {
	// GetOrCreateAccount fetches the account for identity, creating it with
	// the starting balance and one welcome entry on first contact.
	GetOrCreateAccount(ctx context.Context, identity string) (*domain.Account, error)
	GetAccount(ctx context.Context, identity string) (*domain.Account, error)
	// Debit re-checks spendability on the locked row, then decrements the
	// balance, appends one usage entry referencing requestID and records cost
	// as the request's charged cost.
	Debit(ctx context.Context, accountID, cost int64, requestID string) (*domain.Account, error)
	Grant(ctx context.Context, accountID, amount int64, reason domain.Reason) (*domain.Account, error)
	SetBlocked(ctx context.Context, accountID int64, blocked bool) (*domain.Account, error)
	Entries(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error)
}

// Requests owns every mutation of analysis requests.
type Requests interface {
	// CreateDraft stores an uncharged draft. cost is normally zero; Debit
	// records the charged cost.
	CreateDraft(ctx context.Context, accountID int64, text, source string, cost int64) (string, error)
	AttachResult(ctx context.Context, requestID string, c domain.Classification) error
	// MarkSent promotes a draft whose usage entry is already committed.
	MarkSent(ctx context.Context, requestID string) error
	GetRequest(ctx context.Context, requestID string) (*domain.Request, error)
	CountRequests(ctx context.Context, accountID int64) (int, error)
}

// Idempotency remembers the outcome of keyed submissions so a retried
// submission is replayed instead of charged a second time.
type Idempotency interface {
	// ReserveKey returns the completed record for key, or reserves key and
	// returns nil. A different hash fails with ErrIdempotencyMismatch and an
	// unfinished reservation with ErrIdempotencyConflict.
	ReserveKey(ctx context.Context, key, hash string) (*domain.IdempotencyRecord, error)
	CompleteKey(ctx context.Context, key string, status int, body []byte) error
	// ReleaseKey drops an unfinished reservation so the key can be retried.
	ReleaseKey(ctx context.Context, key string) error
}

// Store is the full persistence capability.
type Store interface {
	Ledger
	Requests
	Idempotency

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

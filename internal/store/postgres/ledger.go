package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/punchamoorthee/docledger/internal/domain"
)

const accountColumns = "id, identity, balance, blocked, strikes, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.Identity, &a.Balance, &a.Blocked, &a.Strikes, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetOrCreateAccount inserts the account and its welcome entry in one
// transaction. A concurrent insert of the same identity blocks on the unique
// index and then falls through to the SELECT.
func (s *Store) GetOrCreateAccount(ctx context.Context, identity string) (*domain.Account, error) {
	var acc *domain.Account
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		acc, err = scanAccount(tx.QueryRow(ctx,
			"INSERT INTO accounts (identity, balance) VALUES ($1, $2) ON CONFLICT (identity) DO NOTHING RETURNING "+accountColumns,
			identity, s.startingCredits,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			acc, err = scanAccount(tx.QueryRow(ctx,
				"SELECT "+accountColumns+" FROM accounts WHERE identity = $1", identity,
			))
			if err != nil {
				return eris.Wrap(err, "account lookup failed")
			}
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "account insert failed")
		}

		_, err = tx.Exec(ctx,
			"INSERT INTO ledger_entries (account_id, delta, reason) VALUES ($1, $2, $3)",
			acc.ID, s.startingCredits, domain.ReasonWelcome,
		)
		if err != nil {
			return eris.Wrap(err, "welcome entry failed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *Store) GetAccount(ctx context.Context, identity string) (*domain.Account, error) {
	acc, err := scanAccount(s.Db.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE identity = $1", identity,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "account lookup failed")
	}
	return acc, nil
}

// lockAccount acquires the row lock every balance mutation goes through.
func lockAccount(ctx context.Context, tx pgx.Tx, accountID int64) (*domain.Account, error) {
	acc, err := scanAccount(tx.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", accountID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "lock acquisition failed")
	}
	return acc, nil
}

// applyDelta appends the ledger entry and moves the balance by the same delta.
func applyDelta(ctx context.Context, tx pgx.Tx, acc *domain.Account, delta int64, reason domain.Reason, requestID *string) error {
	_, err := tx.Exec(ctx,
		"INSERT INTO ledger_entries (account_id, delta, reason, request_id) VALUES ($1, $2, $3, $4)",
		acc.ID, delta, reason, requestID,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return domain.ErrInvalidTransition
		}
		return eris.Wrap(err, "ledger entry failed")
	}

	err = tx.QueryRow(ctx,
		"UPDATE accounts SET balance = balance + $1 WHERE id = $2 RETURNING balance",
		delta, acc.ID,
	).Scan(&acc.Balance)
	if err != nil {
		return eris.Wrap(err, "balance update failed")
	}
	return nil
}

func (s *Store) Debit(ctx context.Context, accountID, cost int64, requestID string) (*domain.Account, error) {
	if err := domain.ValidateCost(cost); err != nil {
		return nil, err
	}

	var acc *domain.Account
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if acc, err = lockAccount(ctx, tx, accountID); err != nil {
			return err
		}
		// Re-check against the locked row; the caller's earlier check may be stale.
		if err := domain.CheckSpendable(acc, cost).Err(); err != nil {
			return err
		}

		var owner int64
		var status domain.RequestStatus
		err = tx.QueryRow(ctx,
			"SELECT account_id, status FROM requests WHERE id = $1 FOR UPDATE", requestID,
		).Scan(&owner, &status)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && owner != accountID) {
			return domain.ErrNotFound
		}
		if err != nil {
			return eris.Wrap(err, "request lookup failed")
		}
		if status != domain.RequestDraft {
			return domain.ErrInvalidTransition
		}

		if err := applyDelta(ctx, tx, acc, -cost, domain.ReasonUsage, &requestID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, "UPDATE requests SET cost = $2 WHERE id = $1", requestID, cost); err != nil {
			return eris.Wrap(err, "request cost update failed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *Store) Grant(ctx context.Context, accountID, amount int64, reason domain.Reason) (*domain.Account, error) {
	if err := domain.ValidateGrant(amount, reason); err != nil {
		return nil, err
	}

	var acc *domain.Account
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if acc, err = lockAccount(ctx, tx, accountID); err != nil {
			return err
		}
		return applyDelta(ctx, tx, acc, amount, reason, nil)
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *Store) SetBlocked(ctx context.Context, accountID int64, blocked bool) (*domain.Account, error) {
	acc, err := scanAccount(s.Db.QueryRow(ctx,
		"UPDATE accounts SET blocked = $2 WHERE id = $1 RETURNING "+accountColumns,
		accountID, blocked,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "block update failed")
	}
	return acc, nil
}

// Entries returns the account's ledger in insertion order.
func (s *Store) Entries(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	var exists bool
	err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", accountID).Scan(&exists)
	if err != nil {
		return nil, eris.Wrap(err, "account lookup failed")
	}
	if !exists {
		return nil, domain.ErrNotFound
	}

	rows, err := s.Db.Query(ctx,
		`SELECT id, account_id, delta, reason, COALESCE(request_id, ''), created_at
		 FROM ledger_entries WHERE account_id = $1 ORDER BY id`,
		accountID)
	if err != nil {
		return nil, eris.Wrap(err, "entries query failed")
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &e.Reason, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "entry scan failed")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "entries iteration failed")
	}
	return entries, nil
}

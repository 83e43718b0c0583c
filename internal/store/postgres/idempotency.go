package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/punchamoorthee/docledger/internal/domain"
)

func (s *Store) ReserveKey(ctx context.Context, key, hash string) (*domain.IdempotencyRecord, error) {
	rec := domain.IdempotencyRecord{Key: key}
	var status string
	var body []byte
	err := s.Db.QueryRow(ctx,
		"SELECT request_hash, status, COALESCE(response_status, 0), response_body FROM idempotency_keys WHERE key = $1",
		key,
	).Scan(&rec.RequestHash, &status, &rec.ResponseStatus, &body)

	if err == nil {
		if rec.RequestHash != hash {
			return nil, domain.ErrIdempotencyMismatch
		}
		if status != "completed" {
			return nil, domain.ErrIdempotencyConflict
		}
		rec.Completed = true
		rec.ResponseBody = body
		return &rec, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(err, "idempotency query failed")
	}

	_, err = s.Db.Exec(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, 'in_progress')",
		key, hash,
	)
	if err != nil {
		// A concurrent submission reserved the key first.
		if pgCode(err) == codeUniqueViolation {
			return nil, domain.ErrIdempotencyConflict
		}
		return nil, eris.Wrap(err, "key reservation failed")
	}
	return nil, nil
}

func (s *Store) CompleteKey(ctx context.Context, key string, status int, body []byte) error {
	tag, err := s.Db.Exec(ctx,
		`UPDATE idempotency_keys SET status = 'completed', response_status = $2, response_body = $3
		 WHERE key = $1 AND status = 'in_progress'`,
		key, status, body,
	)
	if err != nil {
		return eris.Wrap(err, "idempotency update failed")
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM idempotency_keys WHERE key = $1)", key).Scan(&exists); err != nil {
			return eris.Wrap(err, "idempotency lookup failed")
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

func (s *Store) ReleaseKey(ctx context.Context, key string) error {
	_, err := s.Db.Exec(ctx, "DELETE FROM idempotency_keys WHERE key = $1 AND status = 'in_progress'", key)
	if err != nil {
		return eris.Wrap(err, "key release failed")
	}
	return nil
}

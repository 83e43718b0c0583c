package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/punchamoorthee/docledger/internal/domain"
)

func (s *Store) CreateDraft(ctx context.Context, accountID int64, text, source string, cost int64) (string, error) {
	id := domain.NewRequestID()
	_, err := s.Db.Exec(ctx,
		"INSERT INTO requests (id, account_id, extracted_text, source, status, cost) VALUES ($1, $2, $3, $4, $5, $6)",
		id, accountID, text, source, domain.RequestDraft, cost,
	)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return "", domain.ErrNotFound
		}
		return "", eris.Wrap(err, "request insert failed")
	}
	return id, nil
}

func (s *Store) AttachResult(ctx context.Context, requestID string, c domain.Classification) error {
	tag, err := s.Db.Exec(ctx,
		`UPDATE requests SET category = $2, risk = $3, sender = $4, amount = $5, deadline = $6,
		        summary = $7, explanation = $8, action = $9, reply = $10
		 WHERE id = $1 AND status = 'draft'`,
		requestID, c.Category, c.Risk, c.Sender, c.Amount, c.Deadline,
		c.Summary, c.Explanation, c.Action, c.Reply,
	)
	if err != nil {
		return eris.Wrap(err, "attach result failed")
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, requestID)
	}
	return nil
}

// MarkSent promotes the draft only when its usage entry is already committed.
func (s *Store) MarkSent(ctx context.Context, requestID string) error {
	tag, err := s.Db.Exec(ctx,
		`UPDATE requests SET status = 'sent', sent_at = now()
		 WHERE id = $1 AND status = 'draft'
		   AND EXISTS (SELECT 1 FROM ledger_entries WHERE request_id = $1 AND reason = 'usage')`,
		requestID,
	)
	if err != nil {
		return eris.Wrap(err, "mark sent failed")
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, requestID)
	}
	return nil
}

func (s *Store) missOrConflict(ctx context.Context, requestID string) error {
	var exists bool
	err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM requests WHERE id = $1)", requestID).Scan(&exists)
	if err != nil {
		return eris.Wrap(err, "request lookup failed")
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidTransition
}

func (s *Store) GetRequest(ctx context.Context, requestID string) (*domain.Request, error) {
	var (
		r         domain.Request
		hasResult bool
		c         domain.Classification
	)
	err := s.Db.QueryRow(ctx,
		`SELECT id, account_id, extracted_text, source, status, cost, created_at, sent_at,
		        category IS NOT NULL,
		        COALESCE(category, ''), COALESCE(risk, ''), COALESCE(sender, ''),
		        COALESCE(amount, ''), COALESCE(deadline, ''), COALESCE(summary, ''),
		        COALESCE(explanation, ''), COALESCE(action, ''), COALESCE(reply, '')
		 FROM requests WHERE id = $1`,
		requestID,
	).Scan(
		&r.ID, &r.AccountID, &r.ExtractedText, &r.Source, &r.Status, &r.Cost, &r.CreatedAt, &r.SentAt,
		&hasResult,
		&c.Category, &c.Risk, &c.Sender,
		&c.Amount, &c.Deadline, &c.Summary,
		&c.Explanation, &c.Action, &c.Reply,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "request lookup failed")
	}
	if hasResult {
		r.Result = &c
	}
	return &r, nil
}

func (s *Store) CountRequests(ctx context.Context, accountID int64) (int, error) {
	var n int
	err := s.Db.QueryRow(ctx, "SELECT COUNT(*) FROM requests WHERE account_id = $1", accountID).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "request count failed")
	}
	return n, nil
}

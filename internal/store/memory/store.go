// Package memory is an in-process implementation of store.Store. A single
// mutex serialises every mutation, which gives the same atomicity the
// Postgres store gets from row locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/docledger/internal/domain"
	"github.com/punchamoorthee/docledger/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	startingCredits int64
	now             func() time.Time

	nextAccountID int64
	nextEntryID   int64

	accounts   map[int64]*domain.Account
	byIdentity map[string]int64
	entries    []domain.LedgerEntry
	requests   map[string]*domain.Request
	keys       map[string]*domain.IdempotencyRecord
}

func New(startingCredits int64) *Store {
	return &Store{
		startingCredits: startingCredits,
		now:             func() time.Time { return time.Now().UTC() },
		accounts:        make(map[int64]*domain.Account),
		byIdentity:      make(map[string]int64),
		entries:         make([]domain.LedgerEntry, 0),
		requests:        make(map[string]*domain.Request),
		keys:            make(map[string]*domain.IdempotencyRecord),
	}
}

func (s *Store) Migrate(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error    { return nil }
func (s *Store) Close() error                  { return nil }

// ==================== Ledger ====================

func (s *Store) GetOrCreateAccount(_ context.Context, identity string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byIdentity[identity]; ok {
		acc := *s.accounts[id]
		return &acc, nil
	}

	s.nextAccountID++
	acc := &domain.Account{
		ID:        s.nextAccountID,
		Identity:  identity,
		Balance:   s.startingCredits,
		CreatedAt: s.now(),
	}
	s.accounts[acc.ID] = acc
	s.byIdentity[identity] = acc.ID
	s.appendEntryLocked(acc.ID, s.startingCredits, domain.ReasonWelcome, "")

	out := *acc
	return &out, nil
}

func (s *Store) GetAccount(_ context.Context, identity string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byIdentity[identity]
	if !ok {
		return nil, domain.ErrNotFound
	}
	acc := *s.accounts[id]
	return &acc, nil
}

func (s *Store) Debit(_ context.Context, accountID, cost int64, requestID string) (*domain.Account, error) {
	if err := domain.ValidateCost(cost); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := domain.CheckSpendable(acc, cost).Err(); err != nil {
		return nil, err
	}
	req, ok := s.requests[requestID]
	if !ok || req.AccountID != accountID {
		return nil, domain.ErrNotFound
	}
	if req.Status != domain.RequestDraft || s.hasUsageLocked(requestID) {
		return nil, domain.ErrInvalidTransition
	}

	acc.Balance -= cost
	req.Cost = cost
	s.appendEntryLocked(accountID, -cost, domain.ReasonUsage, requestID)

	out := *acc
	return &out, nil
}

func (s *Store) Grant(_ context.Context, accountID, amount int64, reason domain.Reason) (*domain.Account, error) {
	if err := domain.ValidateGrant(amount, reason); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	acc.Balance += amount
	s.appendEntryLocked(accountID, amount, reason, "")

	out := *acc
	return &out, nil
}

func (s *Store) SetBlocked(_ context.Context, accountID int64, blocked bool) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	acc.Blocked = blocked

	out := *acc
	return &out, nil
}

func (s *Store) Entries(_ context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, domain.ErrNotFound
	}
	result := make([]domain.LedgerEntry, 0)
	for _, e := range s.entries {
		if e.AccountID == accountID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *Store) appendEntryLocked(accountID, delta int64, reason domain.Reason, requestID string) {
	s.nextEntryID++
	s.entries = append(s.entries, domain.LedgerEntry{
		ID:        s.nextEntryID,
		AccountID: accountID,
		Delta:     delta,
		Reason:    reason,
		RequestID: requestID,
		CreatedAt: s.now(),
	})
}

func (s *Store) hasUsageLocked(requestID string) bool {
	for _, e := range s.entries {
		if e.RequestID == requestID && e.Reason == domain.ReasonUsage {
			return true
		}
	}
	return false
}

// ==================== Requests ====================

func (s *Store) CreateDraft(_ context.Context, accountID int64, text, source string, cost int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return "", domain.ErrNotFound
	}
	req := &domain.Request{
		ID:            domain.NewRequestID(),
		AccountID:     accountID,
		ExtractedText: text,
		Source:        source,
		Status:        domain.RequestDraft,
		Cost:          cost,
		CreatedAt:     s.now(),
	}
	s.requests[req.ID] = req
	return req.ID, nil
}

func (s *Store) AttachResult(_ context.Context, requestID string, c domain.Classification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != domain.RequestDraft {
		return domain.ErrInvalidTransition
	}
	result := c
	req.Result = &result
	return nil
}

func (s *Store) MarkSent(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != domain.RequestDraft || !s.hasUsageLocked(requestID) {
		return domain.ErrInvalidTransition
	}
	now := s.now()
	req.Status = domain.RequestSent
	req.SentAt = &now
	return nil
}

func (s *Store) GetRequest(_ context.Context, requestID string) (*domain.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[requestID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *req
	if req.Result != nil {
		result := *req.Result
		out.Result = &result
	}
	return &out, nil
}

func (s *Store) CountRequests(_ context.Context, accountID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.requests {
		if r.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

// ==================== Idempotency ====================

func (s *Store) ReserveKey(_ context.Context, key, hash string) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.keys[key]
	if !ok {
		s.keys[key] = &domain.IdempotencyRecord{Key: key, RequestHash: hash}
		return nil, nil
	}
	if rec.RequestHash != hash {
		return nil, domain.ErrIdempotencyMismatch
	}
	if !rec.Completed {
		return nil, domain.ErrIdempotencyConflict
	}
	out := *rec
	out.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return &out, nil
}

func (s *Store) CompleteKey(_ context.Context, key string, status int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.keys[key]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.Completed {
		return domain.ErrInvalidTransition
	}
	rec.Completed = true
	rec.ResponseStatus = status
	rec.ResponseBody = append([]byte(nil), body...)
	return nil
}

func (s *Store) ReleaseKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.keys[key]; ok && !rec.Completed {
		delete(s.keys, key)
	}
	return nil
}

// Snapshot returns a copy of every account sorted by id.
func (s *Store) Snapshot() []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

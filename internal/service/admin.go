package service

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/punchamoorthee/docledger/internal/domain"
	"github.com/punchamoorthee/docledger/internal/identity"
	"github.com/punchamoorthee/docledger/internal/store"
)

var (
	ErrAdminNotConfigured = errors.New("admin key not configured")
	ErrUnauthorized       = errors.New("unauthorized")
)

// AdminService is the shared-secret protected path for credit grants and
// account inspection. It is independent of the analysis pipeline.
type AdminService struct {
	key        string
	ledger     store.Ledger
	requests   store.Requests
	normalizer identity.Normalizer
	logger     *zap.Logger
}

func NewAdminService(key string, ledger store.Ledger, requests store.Requests, normalizer identity.Normalizer, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		key:        key,
		ledger:     ledger,
		requests:   requests,
		normalizer: normalizer,
		logger:     logger,
	}
}

// Authorize fails closed when no key is configured.
func (a *AdminService) Authorize(presented string) error {
	if a.key == "" {
		return ErrAdminNotConfigured
	}
	if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(a.key)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func (a *AdminService) resolve(phone string) (string, error) {
	id := a.normalizer.Normalize(phone)
	if id == "" {
		return "", &domain.ValidationError{Field: "phone", Message: "is required"}
	}
	return id, nil
}

// TopUp grants amount credits to phone, creating the account first if needed.
// An empty reason means manual_topup.
func (a *AdminService) TopUp(ctx context.Context, phone string, amount int64, reason domain.Reason) (*domain.Account, error) {
	if reason == "" {
		reason = domain.ReasonManualTopup
	}
	id, err := a.resolve(phone)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateGrant(amount, reason); err != nil {
		return nil, err
	}

	acc, err := a.ledger.GetOrCreateAccount(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "resolve account")
	}
	updated, err := a.ledger.Grant(ctx, acc.ID, amount, reason)
	if err != nil {
		return nil, eris.Wrap(err, "grant credits")
	}
	creditsGranted.WithLabelValues(string(reason)).Add(float64(amount))

	a.logger.Info("credits granted",
		zap.String("identity", id),
		zap.Int64("account_id", updated.ID),
		zap.Int64("amount", amount),
		zap.String("reason", string(reason)),
		zap.Int64("credits", updated.Balance),
	)
	return updated, nil
}

// SetBlocked toggles the block flag of an existing account.
func (a *AdminService) SetBlocked(ctx context.Context, phone string, blocked bool) (*domain.Account, error) {
	id, err := a.resolve(phone)
	if err != nil {
		return nil, err
	}
	acc, err := a.ledger.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, err := a.ledger.SetBlocked(ctx, acc.ID, blocked)
	if err != nil {
		return nil, eris.Wrap(err, "set blocked")
	}
	a.logger.Info("account block changed",
		zap.String("identity", id),
		zap.Bool("blocked", blocked),
	)
	return updated, nil
}

// Entries returns the ledger of an existing account.
func (a *AdminService) Entries(ctx context.Context, phone string) (*domain.Account, []domain.LedgerEntry, error) {
	id, err := a.resolve(phone)
	if err != nil {
		return nil, nil, err
	}
	acc, err := a.ledger.GetAccount(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	entries, err := a.ledger.Entries(ctx, acc.ID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "list entries")
	}
	return acc, entries, nil
}

func (a *AdminService) Request(ctx context.Context, rawID string) (*domain.Request, error) {
	id, err := domain.ParseRequestID(rawID)
	if err != nil {
		return nil, err
	}
	return a.requests.GetRequest(ctx, id)
}

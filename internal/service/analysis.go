package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/punchamoorthee/docledger/internal/classify"
	"github.com/punchamoorthee/docledger/internal/domain"
	"github.com/punchamoorthee/docledger/internal/extract"
	"github.com/punchamoorthee/docledger/internal/identity"
	"github.com/punchamoorthee/docledger/internal/store"
)

// ErrClassification marks a failed or malformed classifier call. Nothing is
// charged when it is returned.
var ErrClassification = errors.New("classification failed")

// Extractor is the extraction pipeline capability.
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (extract.Outcome, error)
}

// Classifier is the external classification capability.
type Classifier interface {
	Classify(ctx context.Context, text string) (domain.Classification, error)
}

// Outcome is the discriminated result of one submission.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeBlocked    Outcome = "blocked"
	OutcomeNoCredits  Outcome = "no_credits"
	OutcomeUnreadable Outcome = "unreadable"
)

type Options struct {
	Cost           int64
	MaxUploadBytes int64
	// KeepDiagnosticDrafts persists a zero-cost draft when extraction is
	// rejected or classification fails. Such drafts never get ledger entries.
	KeepDiagnosticDrafts bool
}

// AnalyzeInput is one document submission.
type AnalyzeInput struct {
	Phone       string
	Data        []byte
	ContentType string
	Filename    string
}

// AnalyzeResult carries either guidance (OK false) or a classification.
type AnalyzeResult struct {
	OK        bool
	Outcome   Outcome
	Identity  string
	Credits   int64
	Message   string
	Result    *domain.Classification
	Source    extract.Source
	RequestID string
}

// AnalysisService charges an account only after extraction and
// classification have both succeeded.
type AnalysisService struct {
	ledger     store.Ledger
	requests   store.Requests
	extractor  Extractor
	classifier Classifier
	normalizer identity.Normalizer
	opts       Options
	logger     *zap.Logger
}

func NewAnalysisService(
	ledger store.Ledger,
	requests store.Requests,
	extractor Extractor,
	classifier Classifier,
	normalizer identity.Normalizer,
	opts Options,
	logger *zap.Logger,
) *AnalysisService {
	if opts.Cost <= 0 {
		opts.Cost = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisService{
		ledger:     ledger,
		requests:   requests,
		extractor:  extractor,
		classifier: classifier,
		normalizer: normalizer,
		opts:       opts,
		logger:     logger,
	}
}

// Cost is the per-analysis charge.
func (s *AnalysisService) Cost() int64 { return s.opts.Cost }

// ResolveIdentity normalises phone and rejects empty identities.
func (s *AnalysisService) ResolveIdentity(phone string) (string, error) {
	id := s.normalizer.Normalize(phone)
	if id == "" {
		return "", &domain.ValidationError{Field: "phone", Message: "is required"}
	}
	return id, nil
}

// Balance returns the account for phone, creating it on first contact.
func (s *AnalysisService) Balance(ctx context.Context, phone string) (*domain.Account, error) {
	id, err := s.ResolveIdentity(phone)
	if err != nil {
		return nil, err
	}
	acc, err := s.ledger.GetOrCreateAccount(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "resolve account")
	}
	return acc, nil
}

func (s *AnalysisService) validate(in AnalyzeInput) (id, contentType string, err error) {
	id, err = s.ResolveIdentity(in.Phone)
	if err != nil {
		return "", "", err
	}
	contentType = extract.ResolveContentType(in.ContentType, in.Filename)
	if !extract.Supported(contentType) {
		return "", "", &domain.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("unsupported content type %q", contentType),
		}
	}
	if len(in.Data) == 0 {
		return "", "", &domain.ValidationError{Field: "file", Message: "is empty"}
	}
	if s.opts.MaxUploadBytes > 0 && int64(len(in.Data)) > s.opts.MaxUploadBytes {
		return "", "", &domain.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("exceeds %d bytes", s.opts.MaxUploadBytes),
		}
	}
	return id, contentType, nil
}

// Analyze runs one submission end to end. Soft-fail outcomes come back as a
// result with OK false; only validation, capability and storage failures are
// returned as errors.
func (s *AnalysisService) Analyze(ctx context.Context, in AnalyzeInput) (res *AnalyzeResult, err error) {
	start := time.Now()
	defer func() {
		outcome := "error"
		if err == nil {
			outcome = string(res.Outcome)
		} else if domain.IsValidation(err) {
			outcome = "invalid"
		}
		analysisTotal.WithLabelValues(outcome).Inc()
		analysisLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	id, contentType, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("identity", id))

	acc, err := s.ledger.GetOrCreateAccount(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "resolve account")
	}
	log = log.With(zap.Int64("account_id", acc.ID))

	if sp := domain.CheckSpendable(acc, s.opts.Cost); sp != domain.Spendable {
		log.Info("analysis refused", zap.Stringer("spendability", sp))
		return s.refusal(acc, sp), nil
	}

	outcome, err := s.extractor.Extract(ctx, in.Data, contentType)
	if err != nil {
		return nil, eris.Wrap(err, "extract document")
	}
	extractionTotal.WithLabelValues(string(outcome.Source), string(outcome.Status)).Inc()

	if !outcome.Ready() {
		log.Info("document unreadable",
			zap.String("source", string(outcome.Source)),
			zap.Int("pages", outcome.Pages),
		)
		s.keepDiagnosticDraft(ctx, log, acc.ID, outcome)
		msg := UnreadableImageMessage
		if contentType == extract.MIMEPDF {
			msg = UnreadablePDFMessage
		}
		return &AnalyzeResult{
			Outcome:  OutcomeUnreadable,
			Identity: acc.Identity,
			Credits:  acc.Balance,
			Message:  msg,
			Source:   outcome.Source,
		}, nil
	}

	result, err := s.classifier.Classify(ctx, outcome.Text)
	if err == nil {
		err = classify.Validate(result)
	}
	if err != nil {
		log.Error("classification failed", zap.Error(err))
		s.keepDiagnosticDraft(ctx, log, acc.ID, outcome)
		return nil, fmt.Errorf("%w: %w", ErrClassification, err)
	}

	return s.charge(ctx, log, acc, outcome, result)
}

// charge persists the request and debits the account. The request is marked
// sent only after the debit has committed.
func (s *AnalysisService) charge(
	ctx context.Context,
	log *zap.Logger,
	acc *domain.Account,
	outcome extract.Outcome,
	result domain.Classification,
) (*AnalyzeResult, error) {
	// The draft stays at zero cost until Debit records the charge.
	reqID, err := s.requests.CreateDraft(ctx, acc.ID, outcome.Text, string(outcome.Source), 0)
	if err != nil {
		return nil, eris.Wrap(err, "create draft")
	}
	log = log.With(zap.String("request_id", reqID))

	if err := s.requests.AttachResult(ctx, reqID, result); err != nil {
		return nil, eris.Wrap(err, "attach result")
	}

	updated, err := s.ledger.Debit(ctx, acc.ID, s.opts.Cost, reqID)
	if errors.Is(err, domain.ErrAccountBlocked) || errors.Is(err, domain.ErrInsufficientCredits) {
		// Another submission spent the balance (or an admin blocked the
		// account) after the early check. The draft stays uncharged.
		log.Info("debit refused", zap.Error(err))
		current, lookupErr := s.ledger.GetAccount(ctx, acc.Identity)
		if lookupErr != nil {
			return nil, eris.Wrap(lookupErr, "reload account")
		}
		sp := domain.InsufficientCredits
		if errors.Is(err, domain.ErrAccountBlocked) {
			sp = domain.Blocked
		}
		return s.refusal(current, sp), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "debit account")
	}
	creditsDebited.Add(float64(s.opts.Cost))

	if err := s.requests.MarkSent(ctx, reqID); err != nil {
		log.Error("debited request not promoted", zap.Error(err))
		return nil, eris.Wrap(err, "mark sent")
	}

	log.Info("analysis completed",
		zap.String("source", string(outcome.Source)),
		zap.Int64("credits", updated.Balance),
	)
	return &AnalyzeResult{
		OK:        true,
		Outcome:   OutcomeOK,
		Identity:  updated.Identity,
		Credits:   updated.Balance,
		Result:    &result,
		Source:    outcome.Source,
		RequestID: reqID,
	}, nil
}

func (s *AnalysisService) refusal(acc *domain.Account, sp domain.Spendability) *AnalyzeResult {
	res := &AnalyzeResult{
		Identity: acc.Identity,
		Credits:  acc.Balance,
	}
	if sp == domain.Blocked {
		res.Outcome = OutcomeBlocked
		res.Message = BlockedMessage
	} else {
		res.Outcome = OutcomeNoCredits
		res.Message = CreditsFinishedMessage
	}
	return res
}

func (s *AnalysisService) keepDiagnosticDraft(ctx context.Context, log *zap.Logger, accountID int64, outcome extract.Outcome) {
	if !s.opts.KeepDiagnosticDrafts {
		return
	}
	id, err := s.requests.CreateDraft(ctx, accountID, outcome.Text, string(outcome.Source), 0)
	if err != nil {
		log.Warn("diagnostic draft not stored", zap.Error(err))
		return
	}
	log.Debug("diagnostic draft stored", zap.String("request_id", id))
}

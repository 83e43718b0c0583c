package models

import (
	"time"

	"github.com/punchamoorthee/docledger/internal/domain"
)

// AnalyzeResponse is returned for successful and soft-failed submissions.
type AnalyzeResponse struct {
	OK        bool                   `json:"ok"`
	Phone     string                 `json:"phone,omitempty"`
	Credits   int64                  `json:"credits"`
	Message   string                 `json:"message,omitempty"`
	Result    *domain.Classification `json:"result,omitempty"`
	Source    string                 `json:"source,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// CreditsResponse answers a balance lookup or an admin grant.
type CreditsResponse struct {
	OK      bool   `json:"ok"`
	Phone   string `json:"phone"`
	Credits int64  `json:"credits"`
	Blocked bool   `json:"blocked"`
	Strikes int    `json:"strikes"`
}

// TopUpRequest is the admin grant payload.
type TopUpRequest struct {
	Phone  string `json:"phone"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

// BlockRequest is the admin block payload.
type BlockRequest struct {
	Phone   string `json:"phone"`
	Blocked bool   `json:"blocked"`
}

// LedgerEntry is one audit row in an entries listing.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EntriesResponse lists an account's ledger.
type EntriesResponse struct {
	Phone   string        `json:"phone"`
	Credits int64         `json:"credits"`
	Entries []LedgerEntry `json:"entries"`
}

func NewCreditsResponse(acc *domain.Account) CreditsResponse {
	return CreditsResponse{
		OK:      true,
		Phone:   acc.Identity,
		Credits: acc.Balance,
		Blocked: acc.Blocked,
		Strikes: acc.Strikes,
	}
}

func NewEntriesResponse(acc *domain.Account, entries []domain.LedgerEntry) EntriesResponse {
	out := EntriesResponse{
		Phone:   acc.Identity,
		Credits: acc.Balance,
		Entries: make([]LedgerEntry, 0, len(entries)),
	}
	for _, e := range entries {
		out.Entries = append(out.Entries, LedgerEntry{
			ID:        e.ID,
			Delta:     e.Delta,
			Reason:    string(e.Reason),
			RequestID: e.RequestID,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

package domain

import (
	"encoding/json"
	"time"
)

// Reason tags a ledger entry with the business cause of the balance change.
type Reason string

const (
	ReasonWelcome     Reason = "welcome"
	ReasonUsage       Reason = "usage"
	ReasonManualTopup Reason = "manual_topup"
	ReasonPartnerCode Reason = "partner_code"
)

// Valid reports whether r is one of the known audit tags.
func (r Reason) Valid() bool {
	switch r {
	case ReasonWelcome, ReasonUsage, ReasonManualTopup, ReasonPartnerCode:
		return true
	}
	return false
}

// Grantable reports whether r may be used for an administrative grant.
func (r Reason) Grantable() bool {
	return r == ReasonManualTopup || r == ReasonPartnerCode
}

// Account is a prepaid credit holder keyed by its canonical identity.
// Balance always equals the sum of the account's ledger deltas.
type Account struct {
	ID        int64     `json:"id"`
	Identity  string    `json:"identity"`
	Balance   int64     `json:"balance"`
	Blocked   bool      `json:"blocked"`
	Strikes   int       `json:"strikes"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerEntry is an immutable audit record of one balance change.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Delta     int64     `json:"delta"`
	Reason    Reason    `json:"reason"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestStatus is the lifecycle state of an analysis request.
type RequestStatus string

const (
	RequestDraft RequestStatus = "draft"
	RequestSent  RequestStatus = "sent"
)

// Classification holds the structured fields returned by the classifier.
type Classification struct {
	Category    string `json:"categoria"`
	Risk        string `json:"rischio"`
	Sender      string `json:"mittente"`
	Amount      string `json:"importo"`
	Deadline    string `json:"scadenza"`
	Summary     string `json:"sintesi"`
	Explanation string `json:"spiegazione"`
	Action      string `json:"azione"`
	Reply       string `json:"risposta_whatsapp"`
}

// Request is one persisted analysis. A request reaches RequestSent only after
// its usage ledger entry has been committed.
type Request struct {
	ID            string          `json:"id"`
	AccountID     int64           `json:"account_id"`
	ExtractedText string          `json:"extracted_text"`
	Source        string          `json:"source"`
	Result        *Classification `json:"result,omitempty"`
	Status        RequestStatus   `json:"status"`
	Cost          int64           `json:"cost"`
	CreatedAt     time.Time       `json:"created_at"`
	SentAt        *time.Time      `json:"sent_at,omitempty"`
}

// IdempotencyRecord holds the state of a client-supplied request key.
// ResponseBody is set once the keyed submission has completed.
type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	Completed      bool
	ResponseStatus int
	ResponseBody   json.RawMessage
}

package domain

// Spendability classifies whether an account can pay a given cost.
type Spendability int

const (
	Spendable Spendability = iota
	Blocked
	InsufficientCredits
)

func (s Spendability) String() string {
	switch s {
	case Spendable:
		return "ok"
	case Blocked:
		return "blocked"
	case InsufficientCredits:
		return "insufficient_credits"
	}
	return "unknown"
}

// Err returns the sentinel error matching s, or nil when spendable.
func (s Spendability) Err() error {
	switch s {
	case Blocked:
		return ErrAccountBlocked
	case InsufficientCredits:
		return ErrInsufficientCredits
	}
	return nil
}

// CheckSpendable is the single spendability rule. Stores call it again inside
// the debit transaction against the locked row.
func CheckSpendable(acc *Account, cost int64) Spendability {
	if acc.Blocked {
		return Blocked
	}
	if acc.Balance < cost {
		return InsufficientCredits
	}
	return Spendable
}

package domain

import (
	"errors"
	"testing"
)

func TestCheckSpendable(t *testing.T) {
	tests := []struct {
		name string
		acc  Account
		cost int64
		want Spendability
	}{
		{"enough credits", Account{Balance: 3}, 1, Spendable},
		{"exact balance", Account{Balance: 1}, 1, Spendable},
		{"empty balance", Account{Balance: 0}, 1, InsufficientCredits},
		{"blocked wins over balance", Account{Balance: 10, Blocked: true}, 1, Blocked},
		{"blocked and empty", Account{Blocked: true}, 1, Blocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := tt.acc
			if got := CheckSpendable(&acc, tt.cost); got != tt.want {
				t.Errorf("CheckSpendable() = %v, want %v", got, tt.want)
			}
			if acc != tt.acc {
				t.Errorf("CheckSpendable mutated account: %+v", acc)
			}
		})
	}
}

func TestSpendabilityErr(t *testing.T) {
	if Spendable.Err() != nil {
		t.Fatalf("expected nil error for Spendable")
	}
	if !errors.Is(Blocked.Err(), ErrAccountBlocked) {
		t.Errorf("Blocked.Err() = %v", Blocked.Err())
	}
	if !errors.Is(InsufficientCredits.Err(), ErrInsufficientCredits) {
		t.Errorf("InsufficientCredits.Err() = %v", InsufficientCredits.Err())
	}
}

func TestReasonGrantable(t *testing.T) {
	for _, r := range []Reason{ReasonManualTopup, ReasonPartnerCode} {
		if !r.Grantable() || !r.Valid() {
			t.Errorf("%s should be a valid grant reason", r)
		}
	}
	for _, r := range []Reason{ReasonWelcome, ReasonUsage, Reason("bonus")} {
		if r.Grantable() {
			t.Errorf("%s should not be grantable", r)
		}
	}
	if Reason("bonus").Valid() {
		t.Errorf("unknown reason reported valid")
	}
}

package store

import (
	"errors"
	"testing"
)

func TestLockOrder(t *testing.T) {
	tests := []struct {
		name          string
		from          int64
		to            int64
		wantFirst     int64
		wantSecond    int64
		wantFromFirst bool
	}{
		{name: "ascending pair locked as given", from: 1, to: 2, wantFirst: 1, wantSecond: 2, wantFromFirst: true},
		{name: "descending pair swapped into ascending order", from: 9, to: 3, wantFirst: 3, wantSecond: 9, wantFromFirst: false},
		{name: "self transfer yields the same id twice", from: 5, to: 5, wantFirst: 5, wantSecond: 5, wantFromFirst: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, second, fromFirst := LockOrder(tt.from, tt.to)
			if first != tt.wantFirst || second != tt.wantSecond {
				t.Fatalf("expected order (%d,%d), got (%d,%d)", tt.wantFirst, tt.wantSecond, first, second)
			}
			if fromFirst != tt.wantFromFirst {
				t.Fatalf("expected fromIsFirst=%t, got %t", tt.wantFromFirst, fromFirst)
			}
		})
	}
}

func TestLockOrderReversedPairsAgree(t *testing.T) {
	// A->B and B->A must acquire locks in the same order.
	f1, s1, _ := LockOrder(3, 9)
	f2, s2, _ := LockOrder(9, 3)
	if f1 != f2 || s1 != s2 {
		t.Fatalf("reversed pairs disagree on lock order: (%d,%d) vs (%d,%d)", f1, s1, f2, s2)
	}
}

func TestApplyTransferBalances(t *testing.T) {
	tests := []struct {
		name         string
		fromBalance  int64
		toBalance    int64
		amount       int64
		selfTransfer bool
		wantFrom     int64
		wantTo       int64
		wantErr      error
	}{
		{
			name:        "ordinary transfer moves the amount",
			fromBalance: 100_000,
			toBalance:   20_000,
			amount:      5_000,
			wantFrom:    95_000,
			wantTo:      25_000,
		},
		{
			name:        "exact balance drains the source to zero",
			fromBalance: 5_000,
			toBalance:   0,
			amount:      5_000,
			wantFrom:    0,
			wantTo:      5_000,
		},
		{
			name:        "amount above balance is refused",
			fromBalance: 4_999,
			toBalance:   0,
			amount:      5_000,
			wantErr:     ErrInsufficientFunds,
		},
		{
			name:         "self transfer nets to the starting balance",
			fromBalance:  100_000,
			toBalance:    100_000,
			amount:       5_000,
			selfTransfer: true,
			wantFrom:     95_000,
			wantTo:       100_000,
		},
		{
			name:         "self transfer still requires sufficient balance",
			fromBalance:  4_999,
			toBalance:    4_999,
			amount:       5_000,
			selfTransfer: true,
			wantErr:      ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotFrom, gotTo, err := ApplyTransferBalances(tt.fromBalance, tt.toBalance, tt.amount, tt.selfTransfer)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if gotFrom != tt.wantFrom {
				t.Fatalf("expected from=%d, got %d", tt.wantFrom, gotFrom)
			}
			if gotTo != tt.wantTo {
				t.Fatalf("expected to=%d, got %d", tt.wantTo, gotTo)
			}
		})
	}
}

package app

import (
	"context"
	"testing"
	"time"

	"github.com/paygrid/transfer-service/internal/domain"
)

func fixedClock(hour int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, time.March, 10, hour, 30, 0, 0, time.UTC)
	}
}

func TestLocalFraudScorer(t *testing.T) {
	tests := []struct {
		name               string
		amount             int64
		hour               int
		wantScore          int
		wantFlags          []string
		wantRecommendation string
	}{
		{
			name:               "small daytime amount approves",
			amount:             5_000,
			hour:               14,
			wantScore:          0,
			wantFlags:          []string{},
			wantRecommendation: domain.RiskApprove,
		},
		{
			name:               "medium-high amount is flagged but approved",
			amount:             600_000,
			hour:               14,
			wantScore:          15,
			wantFlags:          []string{"MEDIUM_HIGH_AMOUNT"},
			wantRecommendation: domain.RiskApprove,
		},
		{
			name:               "high amount alone requires review",
			amount:             1_000_001,
			hour:               14,
			wantScore:          30,
			wantFlags:          []string{"HIGH_AMOUNT"},
			wantRecommendation: domain.RiskReview,
		},
		{
			name:               "high round amount requires review",
			amount:             2_000_000,
			hour:               14,
			wantScore:          40,
			wantFlags:          []string{"HIGH_AMOUNT", "ROUND_NUMBER"},
			wantRecommendation: domain.RiskReview,
		},
		{
			name:               "high round amount off hours stays under reject threshold",
			amount:             2_000_000,
			hour:               3,
			wantScore:          45,
			wantFlags:          []string{"HIGH_AMOUNT", "ROUND_NUMBER", "OFF_HOURS"},
			wantRecommendation: domain.RiskReview,
		},
		{
			name:               "round number at the unit itself is not flagged",
			amount:             100_000,
			hour:               14,
			wantScore:          0,
			wantFlags:          []string{},
			wantRecommendation: domain.RiskApprove,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &LocalFraudScorer{now: fixedClock(tt.hour)}
			got, err := scorer.Score(context.Background(), domain.TransferIntent{Amount: tt.amount})
			if err != nil {
				t.Fatalf("Score returned error: %v", err)
			}
			if got.Score != tt.wantScore {
				t.Fatalf("expected score=%d, got %d", tt.wantScore, got.Score)
			}
			if got.Recommendation != tt.wantRecommendation {
				t.Fatalf("expected recommendation=%s, got %s", tt.wantRecommendation, got.Recommendation)
			}
			if len(got.Flags) != len(tt.wantFlags) {
				t.Fatalf("expected flags=%v, got %v", tt.wantFlags, got.Flags)
			}
			for i, flag := range tt.wantFlags {
				if got.Flags[i] != flag {
					t.Fatalf("expected flags=%v, got %v", tt.wantFlags, got.Flags)
				}
			}
		})
	}
}

func TestLocalFraudScorerOffHoursBoundaries(t *testing.T) {
	for hour, wantFlagged := range map[int]bool{1: false, 2: true, 5: true, 6: false} {
		scorer := &LocalFraudScorer{now: fixedClock(hour)}
		got, err := scorer.Score(context.Background(), domain.TransferIntent{Amount: 1_000})
		if err != nil {
			t.Fatalf("Score returned error: %v", err)
		}
		flagged := got.Score == 5
		if flagged != wantFlagged {
			t.Fatalf("hour %d: expected off-hours flagged=%t, got score=%d", hour, wantFlagged, got.Score)
		}
	}
}

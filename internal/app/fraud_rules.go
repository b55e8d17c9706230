package app

import (
	"context"
	"time"

	"github.com/paygrid/transfer-service/internal/domain"
)

// Rule thresholds are in cents. Score bands: >=50 reject, >=20 review.
const (
	highAmountThreshold       = 1_000_000 // 10,000.00
	mediumHighAmountThreshold = 500_000   // 5,000.00
	roundNumberUnit           = 100_000   // multiples of 1,000.00
	rejectScoreThreshold      = 50
	reviewScoreThreshold      = 20
)

// LocalFraudScorer applies the in-process scoring rules. It is used when no
// fraud-detection service is configured, so the evaluator never silently
// approves for lack of a collaborator.
type LocalFraudScorer struct {
	now func() time.Time
}

// NewLocalFraudScorer creates a scorer using the wall clock.
func NewLocalFraudScorer() *LocalFraudScorer {
	return &LocalFraudScorer{now: time.Now}
}

// Score evaluates the transfer intent against the scoring rules.
func (s *LocalFraudScorer) Score(_ context.Context, intent domain.TransferIntent) (*domain.RiskAssessment, error) {
	assessment := &domain.RiskAssessment{
		Flags:          []string{},
		Recommendation: domain.RiskApprove,
	}

	if intent.Amount > highAmountThreshold {
		assessment.Score += 30
		assessment.Flags = append(assessment.Flags, "HIGH_AMOUNT")
	} else if intent.Amount > mediumHighAmountThreshold {
		assessment.Score += 15
		assessment.Flags = append(assessment.Flags, "MEDIUM_HIGH_AMOUNT")
	}

	// Large round figures correlate with fraud more than organic amounts do.
	if intent.Amount%roundNumberUnit == 0 && intent.Amount > roundNumberUnit {
		assessment.Score += 10
		assessment.Flags = append(assessment.Flags, "ROUND_NUMBER")
	}

	hour := s.now().Hour()
	if hour >= 2 && hour <= 5 {
		assessment.Score += 5
		assessment.Flags = append(assessment.Flags, "OFF_HOURS")
	}

	if assessment.Score >= rejectScoreThreshold {
		assessment.Recommendation = domain.RiskReject
	} else if assessment.Score >= reviewScoreThreshold {
		assessment.Recommendation = domain.RiskReview
	}

	return assessment, nil
}

// StaticOTPVerifier reports a fixed verification outcome. It stands in for the
// one-time-verification collaborator when no OTP service is configured.
type StaticOTPVerifier struct {
	Verified bool
}

func (v *StaticOTPVerifier) Verify(context.Context, domain.TransferIntent) (bool, error) {
	return v.Verified, nil
}

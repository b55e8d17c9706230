/**
 * @description
 * This file implements the risk evaluation step of the transfer orchestration.
 * It composes two external signals, one-time verification and fraud scoring,
 * into a single categorical recommendation. Both signals must succeed for a
 * transfer to proceed; any error or timeout from either collaborator is
 * treated as a reject so the evaluator fails closed.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: For the risk assessment model.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/paygrid/transfer-service/internal/domain"
)

// OTPVerifier is the one-time-verification collaborator boundary.
type OTPVerifier interface {
	Verify(ctx context.Context, intent domain.TransferIntent) (bool, error)
}

// FraudScorer is the fraud-detection collaborator boundary.
type FraudScorer interface {
	Score(ctx context.Context, intent domain.TransferIntent) (*domain.RiskAssessment, error)
}

// RiskEvaluator gates payment execution on the composed risk signals.
type RiskEvaluator struct {
	otp          OTPVerifier
	fraud        FraudScorer
	otpTimeout   time.Duration
	fraudTimeout time.Duration
}

// NewRiskEvaluator creates a risk evaluator with per-collaborator timeouts.
func NewRiskEvaluator(otp OTPVerifier, fraud FraudScorer, otpTimeout, fraudTimeout time.Duration) *RiskEvaluator {
	if otpTimeout <= 0 {
		otpTimeout = 5 * time.Second
	}
	if fraudTimeout <= 0 {
		fraudTimeout = 5 * time.Second
	}
	return &RiskEvaluator{otp: otp, fraud: fraud, otpTimeout: otpTimeout, fraudTimeout: fraudTimeout}
}

// Evaluate returns the merged assessment for a transfer intent. The fraud
// score drives the recommendation; a failed or unavailable OTP verification
// overrides it to reject.
func (e *RiskEvaluator) Evaluate(ctx context.Context, intent domain.TransferIntent) domain.RiskAssessment {
	fraudCtx, cancelFraud := context.WithTimeout(ctx, e.fraudTimeout)
	defer cancelFraud()

	assessment, err := e.fraud.Score(fraudCtx, intent)
	if err != nil {
		log.Printf("level=warn component=risk msg=\"fraud scoring unavailable; rejecting\" transfer_id=%d err=%v", intent.TransferID, err)
		return domain.RiskAssessment{
			Score:          100,
			Flags:          []string{"FRAUD_CHECK_UNAVAILABLE"},
			Recommendation: domain.RiskReject,
		}
	}
	merged := *assessment
	if merged.Flags == nil {
		merged.Flags = []string{}
	}

	otpCtx, cancelOTP := context.WithTimeout(ctx, e.otpTimeout)
	defer cancelOTP()

	verified, err := e.otp.Verify(otpCtx, intent)
	if err != nil {
		log.Printf("level=warn component=risk msg=\"otp verification unavailable; rejecting\" transfer_id=%d err=%v", intent.TransferID, err)
		merged.Flags = append(merged.Flags, "OTP_UNAVAILABLE")
		merged.Recommendation = domain.RiskReject
		return merged
	}
	if !verified {
		merged.Flags = append(merged.Flags, "OTP_FAILED")
		merged.Recommendation = domain.RiskReject
		return merged
	}

	return merged
}

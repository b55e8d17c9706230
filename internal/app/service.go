/**
 * @description
 * This file contains the core business logic for the transfer-service. The
 * `Service` struct drives each transfer through its saga: idempotency
 * admission, pending-row creation, ordered account locking, balance
 * validation, risk evaluation, payment execution, and the atomic ledger
 * commit. Every failure after the pending row exists resolves the transfer to
 * `failed` and stores the terminal result under the idempotency key.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/paygrid/transfer-service/internal/domain"
	"github.com/paygrid/transfer-service/internal/store"
)

// PaymentExecutor is the payment-processing collaborator boundary.
type PaymentExecutor interface {
	Execute(ctx context.Context, intent domain.TransferIntent) (*domain.PaymentResult, error)
}

// LedgerEventPublisher fans out ledger updates to the async consumer.
type LedgerEventPublisher interface {
	PublishLedgerUpdated(ctx context.Context, events []domain.LedgerUpdatedEvent) error
}

// StatusPublisher fans out terminal transfer states to sibling services.
type StatusPublisher interface {
	PublishTransferStatus(ctx context.Context, event domain.TransferStatusEvent) error
}

// Outcome is the terminal result of a submit call. Body holds the exact JSON
// surfaced to the caller; on a replay it is the stored result of the first
// attempt.
type Outcome struct {
	Status   int
	Body     []byte
	Replayed bool
}

type transferResponse struct {
	Message           string                `json:"message"`
	TransferID        int64                 `json:"transferId"`
	FromTransactionID int64                 `json:"fromTransactionId"`
	ToTransactionID   int64                 `json:"toTransactionId"`
	FraudRisk         domain.RiskAssessment `json:"fraudRisk"`
}

// Service provides the transfer orchestration logic.
type Service struct {
	repo           store.Repository
	risk           *RiskEvaluator
	payments       PaymentExecutor
	ledgerEvents   LedgerEventPublisher
	statusEvents   StatusPublisher
	paymentTimeout time.Duration
	maxAmount      int64
	admissionWait  time.Duration
	pollInterval   time.Duration
}

// NewService creates a new transfer service instance. ledgerEvents and
// statusEvents may be nil; event fan-out degrades to warn logs.
func NewService(
	repo store.Repository,
	risk *RiskEvaluator,
	payments PaymentExecutor,
	ledgerEvents LedgerEventPublisher,
	statusEvents StatusPublisher,
	paymentTimeout time.Duration,
	maxAmount int64,
	admissionWait time.Duration,
) *Service {
	if paymentTimeout <= 0 {
		paymentTimeout = 10 * time.Second
	}
	if maxAmount <= 0 {
		maxAmount = 100_000_000 // 1,000,000.00 default ceiling
	}
	if admissionWait <= 0 {
		admissionWait = 2 * time.Second
	}
	return &Service{
		repo:           repo,
		risk:           risk,
		payments:       payments,
		ledgerEvents:   ledgerEvents,
		statusEvents:   statusEvents,
		paymentTimeout: paymentTimeout,
		maxAmount:      maxAmount,
		admissionWait:  admissionWait,
		pollInterval:   100 * time.Millisecond,
	}
}

// ValidateTransfer rejects malformed intents before any key is consumed or
// lock taken. Amount is in cents and must already be an exact conversion.
func (s *Service) ValidateTransfer(fromAccountID, toAccountID, amount int64) error {
	if fromAccountID <= 0 || toAccountID <= 0 {
		return ErrInvalidAccountID
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > s.maxAmount {
		return ErrAmountTooLarge
	}
	return nil
}

// SubmitTransfer runs one transfer intent to a terminal state. The returned
// Outcome carries the HTTP status and body for the caller; a non-nil error
// means the intent was not (or could not be) completed and maps through
// ErrorResponse.
func (s *Service) SubmitTransfer(ctx context.Context, key, requestHash string, fromAccountID, toAccountID, amount int64) (*Outcome, error) {
	if err := s.ValidateTransfer(fromAccountID, toAccountID, amount); err != nil {
		return nil, err
	}

	admit, err := s.repo.AdmitTransfer(ctx, key, requestHash, fromAccountID, toAccountID, amount)
	if err != nil {
		return nil, err
	}
	if !admit.Fresh {
		return s.replayExisting(ctx, key, admit.Existing)
	}

	transfer := admit.Transfer
	intent := domain.TransferIntent{
		TransferID:    transfer.ID,
		FromAccountID: fromAccountID,
		ToAccountID:   toAccountID,
		Amount:        amount,
	}

	var (
		commit     *domain.LedgerCommit
		assessment domain.RiskAssessment
		body       []byte
	)
	err = s.repo.WithLockedAccounts(ctx, fromAccountID, toAccountID, func(ctx context.Context, locked store.LockedAccounts) error {
		// Balance is validated only now, against the value read under the lock;
		// anything read earlier could race a concurrent debit.
		if locked.From().Balance < amount {
			return store.ErrInsufficientFunds
		}

		assessment = s.risk.Evaluate(ctx, intent)
		if assessment.Recommendation != domain.RiskApprove {
			s.auditRiskDecision(ctx, intent, assessment)
			return &RiskDeniedError{Assessment: assessment}
		}

		payCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
		defer cancel()
		payment, payErr := s.payments.Execute(payCtx, intent)
		if payErr != nil {
			return fmt.Errorf("%w: %v", ErrExternalService, payErr)
		}
		if !payment.Success {
			return ErrPaymentDeclined
		}

		var commitErr error
		commit, commitErr = locked.CommitTransfer(ctx, transfer, func(c domain.LedgerCommit) (int, []byte, error) {
			resp := transferResponse{
				Message:           "Transfer completed successfully",
				TransferID:        transfer.ID,
				FromTransactionID: c.FromTransactionID,
				ToTransactionID:   c.ToTransactionID,
				FraudRisk:         assessment,
			}
			data, marshalErr := json.Marshal(resp)
			if marshalErr != nil {
				return 0, nil, marshalErr
			}
			body = data
			return http.StatusCreated, data, nil
		})
		return commitErr
	})
	if err != nil {
		s.failTransfer(ctx, transfer, err)
		return nil, err
	}

	s.publishCompletion(ctx, transfer, commit)
	return &Outcome{Status: http.StatusCreated, Body: body}, nil
}

// replayExisting resolves a duplicate admission. A stored result is returned
// verbatim; an in-flight first attempt is polled for up to admissionWait so a
// concurrent identical submission converges on the same transfer id.
func (s *Service) replayExisting(ctx context.Context, key string, record *domain.IdempotencyRecord) (*Outcome, error) {
	deadline := time.Now().Add(s.admissionWait)
	for {
		if record.ResponseStatus != nil {
			return &Outcome{Status: *record.ResponseStatus, Body: record.ResponseBody, Replayed: true}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTransferInProgress
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
		refreshed, err := s.repo.GetIdempotencyRecord(ctx, key)
		if err != nil {
			return nil, err
		}
		record = refreshed
	}
}

// failTransfer resolves the pending row to failed and stores the terminal
// error result under the key. Both writes are best-effort: the reconciliation
// sweep covers anything missed here.
func (s *Service) failTransfer(ctx context.Context, transfer *domain.Transfer, cause error) {
	// The request context may already be dead (handler timeout, client
	// disconnect), and the failure cause is often exactly that. These writes
	// must still land or the row lingers pending until the sweep.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.repo.MarkTransferFailed(ctx, transfer.ID); err != nil {
		log.Printf("level=error component=transfer_service msg=\"failed to mark transfer failed\" transfer_id=%d err=%v", transfer.ID, err)
	}
	status, body := ErrorResponse(cause)
	if err := s.repo.StoreFailureResult(ctx, transfer.IdempotencyKey, status, body); err != nil {
		log.Printf("level=error component=transfer_service msg=\"failed to store failure result\" transfer_id=%d err=%v", transfer.ID, err)
	}
	if s.statusEvents != nil {
		event := domain.TransferStatusEvent{
			TransferID: transfer.ID,
			Status:     domain.TransferStatusFailed,
			Reason:     cause.Error(),
			Timestamp:  time.Now().UTC(),
		}
		if err := s.statusEvents.PublishTransferStatus(ctx, event); err != nil {
			log.Printf("level=warn component=transfer_service msg=\"status event publish failed\" transfer_id=%d err=%v", transfer.ID, err)
		}
	}
}

// publishCompletion fans out the ledger updates and terminal status after the
// commit. Publishing is best-effort; the ledger rows are the source of truth.
func (s *Service) publishCompletion(ctx context.Context, transfer *domain.Transfer, commit *domain.LedgerCommit) {
	now := time.Now().UTC()
	if s.ledgerEvents != nil {
		events := []domain.LedgerUpdatedEvent{
			{
				EventType:     "LEDGER_UPDATED",
				AccountID:     transfer.FromAccountID,
				TransactionID: commit.FromTransactionID,
				Amount:        -transfer.Amount,
				BalanceAfter:  commit.FromBalanceAfter,
				Timestamp:     now,
			},
			{
				EventType:     "LEDGER_UPDATED",
				AccountID:     transfer.ToAccountID,
				TransactionID: commit.ToTransactionID,
				Amount:        transfer.Amount,
				BalanceAfter:  commit.ToBalanceAfter,
				Timestamp:     now,
			},
		}
		if err := s.ledgerEvents.PublishLedgerUpdated(ctx, events); err != nil {
			log.Printf("level=warn component=transfer_service msg=\"ledger event publish failed\" transfer_id=%d err=%v", transfer.ID, err)
		}
	}
	if s.statusEvents != nil {
		event := domain.TransferStatusEvent{
			TransferID: transfer.ID,
			Status:     domain.TransferStatusCompleted,
			Timestamp:  now,
		}
		if err := s.statusEvents.PublishTransferStatus(ctx, event); err != nil {
			log.Printf("level=warn component=transfer_service msg=\"status event publish failed\" transfer_id=%d err=%v", transfer.ID, err)
		}
	}
}

// auditRiskDecision records reject/review outcomes for later investigation.
func (s *Service) auditRiskDecision(ctx context.Context, intent domain.TransferIntent, assessment domain.RiskAssessment) {
	action := "fraud_detected"
	if assessment.Recommendation == domain.RiskReview {
		action = "fraud_review_required"
	}
	metadata := map[string]any{
		"transferId":    intent.TransferID,
		"fromAccountId": intent.FromAccountID,
		"toAccountId":   intent.ToAccountID,
		"amount":        intent.Amount,
		"fraudRisk":     assessment,
	}
	if err := s.repo.RecordAuditLog(ctx, action, "transfer", metadata); err != nil {
		log.Printf("level=warn component=transfer_service msg=\"audit log write failed\" transfer_id=%d err=%v", intent.TransferID, err)
	}
}

// GetTransferStatus returns the transfer for the status endpoint.
func (s *Service) GetTransferStatus(ctx context.Context, transferID int64) (*domain.Transfer, error) {
	transfer, err := s.repo.GetTransferByID(ctx, transferID)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("transfer lookup failed: %w", err)
	}
	return transfer, nil
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/paygrid/transfer-service/internal/domain"
	"github.com/paygrid/transfer-service/internal/store"
)

type stubLockedAccounts struct {
	from, to *domain.Account

	commit       *domain.LedgerCommit
	commitErr    error
	committed    bool
	storedStatus int
	storedBody   []byte
}

func (l *stubLockedAccounts) From() *domain.Account { return l.from }
func (l *stubLockedAccounts) To() *domain.Account   { return l.to }

func (l *stubLockedAccounts) CommitTransfer(_ context.Context, t *domain.Transfer, buildResponse func(domain.LedgerCommit) (int, []byte, error)) (*domain.LedgerCommit, error) {
	if l.commitErr != nil {
		return nil, l.commitErr
	}
	status, body, err := buildResponse(*l.commit)
	if err != nil {
		return nil, err
	}
	l.committed = true
	l.storedStatus = status
	l.storedBody = body
	t.Status = domain.TransferStatusCompleted
	return l.commit, nil
}

type stubRepository struct {
	admit    *store.AdmitOutcome
	admitErr error

	record *domain.IdempotencyRecord

	locked  *stubLockedAccounts
	lockErr error

	markedFailed     []int64
	markFailedCtxErr error
	failureKey       string
	failureStatus    int
	failureBody      []byte
	failureCtxErr    error

	auditActions []string

	transfer *domain.Transfer

	sweptCount  int64
	sweptMaxAge time.Duration
}

func (r *stubRepository) AdmitTransfer(context.Context, string, string, int64, int64, int64) (*store.AdmitOutcome, error) {
	return r.admit, r.admitErr
}

func (r *stubRepository) GetIdempotencyRecord(context.Context, string) (*domain.IdempotencyRecord, error) {
	return r.record, nil
}

func (r *stubRepository) WithLockedAccounts(ctx context.Context, _, _ int64, fn func(ctx context.Context, locked store.LockedAccounts) error) error {
	if r.lockErr != nil {
		return r.lockErr
	}
	return fn(ctx, r.locked)
}

func (r *stubRepository) MarkTransferFailed(ctx context.Context, transferID int64) error {
	r.markedFailed = append(r.markedFailed, transferID)
	r.markFailedCtxErr = ctx.Err()
	return nil
}

func (r *stubRepository) StoreFailureResult(ctx context.Context, key string, status int, body []byte) error {
	r.failureKey = key
	r.failureStatus = status
	r.failureBody = body
	r.failureCtxErr = ctx.Err()
	return nil
}

func (r *stubRepository) GetTransferByID(context.Context, int64) (*domain.Transfer, error) {
	if r.transfer == nil {
		return nil, store.ErrTransferNotFound
	}
	return r.transfer, nil
}

func (r *stubRepository) FailStalePendingTransfers(_ context.Context, olderThan time.Duration, _ int, _ []byte) (int64, error) {
	r.sweptMaxAge = olderThan
	return r.sweptCount, nil
}

func (r *stubRepository) RecordAuditLog(_ context.Context, action, _ string, _ any) error {
	r.auditActions = append(r.auditActions, action)
	return nil
}

type stubPaymentExecutor struct {
	result *domain.PaymentResult
	err    error
	calls  int
}

func (p *stubPaymentExecutor) Execute(context.Context, domain.TransferIntent) (*domain.PaymentResult, error) {
	p.calls++
	return p.result, p.err
}

type captureLedgerPublisher struct {
	batches [][]domain.LedgerUpdatedEvent
}

func (p *captureLedgerPublisher) PublishLedgerUpdated(_ context.Context, events []domain.LedgerUpdatedEvent) error {
	p.batches = append(p.batches, events)
	return nil
}

type captureStatusPublisher struct {
	events []domain.TransferStatusEvent
}

func (p *captureStatusPublisher) PublishTransferStatus(_ context.Context, event domain.TransferStatusEvent) error {
	p.events = append(p.events, event)
	return nil
}

func approvingRisk() *RiskEvaluator {
	return NewRiskEvaluator(
		&stubOTPVerifier{verified: true},
		&stubFraudScorer{assessment: &domain.RiskAssessment{Score: 0, Flags: []string{}, Recommendation: domain.RiskApprove}},
		time.Second, time.Second,
	)
}

func freshAdmission(transferID, fromID, toID, amount int64) *store.AdmitOutcome {
	return &store.AdmitOutcome{
		Fresh: true,
		Transfer: &domain.Transfer{
			ID:             transferID,
			FromAccountID:  fromID,
			ToAccountID:    toID,
			Amount:         amount,
			IdempotencyKey: "key-1",
			Status:         domain.TransferStatusPending,
		},
	}
}

func TestSubmitTransferRejectsInvalidInput(t *testing.T) {
	repo := &stubRepository{}
	svc := NewService(repo, approvingRisk(), &stubPaymentExecutor{}, nil, nil, time.Second, 100_000_000, time.Second)

	tests := []struct {
		name    string
		from    int64
		to      int64
		amount  int64
		wantErr error
	}{
		{name: "zero from account", from: 0, to: 2, amount: 100, wantErr: ErrInvalidAccountID},
		{name: "negative to account", from: 1, to: -2, amount: 100, wantErr: ErrInvalidAccountID},
		{name: "zero amount", from: 1, to: 2, amount: 0, wantErr: ErrInvalidAmount},
		{name: "negative amount", from: 1, to: 2, amount: -500, wantErr: ErrInvalidAmount},
		{name: "amount above cap", from: 1, to: 2, amount: 100_000_001, wantErr: ErrAmountTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SubmitTransfer(context.Background(), "key-1", "hash", tt.from, tt.to, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
	if len(repo.markedFailed) != 0 {
		t.Fatalf("validation failures must not touch the store, marked %v", repo.markedFailed)
	}
}

func TestSubmitTransferReplaysStoredResult(t *testing.T) {
	status := http.StatusCreated
	storedBody := []byte(`{"message":"Transfer completed successfully","transferId":42}`)
	repo := &stubRepository{
		admit: &store.AdmitOutcome{
			Fresh: false,
			Existing: &domain.IdempotencyRecord{
				Key:            "key-1",
				ResponseStatus: &status,
				ResponseBody:   storedBody,
			},
		},
	}
	payments := &stubPaymentExecutor{result: &domain.PaymentResult{Success: true}}
	svc := NewService(repo, approvingRisk(), payments, nil, nil, time.Second, 100_000_000, time.Second)

	outcome, err := svc.SubmitTransfer(context.Background(), "key-1", "hash", 1, 2, 5_000)
	if err != nil {
		t.Fatalf("replay returned error: %v", err)
	}
	if !outcome.Replayed {
		t.Fatal("expected replayed outcome")
	}
	if outcome.Status != http.StatusCreated {
		t.Fatalf("expected stored status 201, got %d", outcome.Status)
	}
	if string(outcome.Body) != string(storedBody) {
		t.Fatalf("expected stored body returned verbatim, got %s", outcome.Body)
	}
	if payments.calls != 0 {
		t.Fatalf("replay must not execute payment, got %d calls", payments.calls)
	}
}

func TestSubmitTransferInFlightDuplicateTimesOut(t *testing.T) {
	record := &domain.IdempotencyRecord{Key: "key-1"}
	repo := &stubRepository{
		admit:  &store.AdmitOutcome{Fresh: false, Existing: record},
		record: record,
	}
	svc := NewService(repo, approvingRisk(), &stubPaymentExecutor{}, nil, nil, time.Second, 100_000_000, 50*time.Millisecond)
	svc.pollInterval = 10 * time.Millisecond

	_, err := svc.SubmitTransfer(context.Background(), "key-1", "hash", 1, 2, 5_000)
	if !errors.Is(err, ErrTransferInProgress) {
		t.Fatalf("expected ErrTransferInProgress, got %v", err)
	}
}

func TestSubmitTransferInFlightDuplicateConvergesOnStoredResult(t *testing.T) {
	status := http.StatusBadRequest
	resolved := &domain.IdempotencyRecord{
		Key:            "key-1",
		ResponseStatus: &status,
		ResponseBody:   []byte(`{"error":"Insufficient funds"}`),
	}
	repo := &stubRepository{
		admit:  &store.AdmitOutcome{Fresh: false, Existing: &domain.IdempotencyRecord{Key: "key-1"}},
		record: resolved,
	}
	svc := NewService(repo, approvingRisk(), &stubPaymentExecutor{}, nil, nil, time.Second, 100_000_000, time.Second)
	svc.pollInterval = 10 * time.Millisecond

	outcome, err := svc.SubmitTransfer(context.Background(), "key-1", "hash", 1, 2, 5_000)
	if err != nil {
		t.Fatalf("expected converged outcome, got error: %v", err)
	}
	if !outcome.Replayed || outcome.Status != http.StatusBadRequest {
		t.Fatalf("expected replayed 400, got replayed=%t status=%d", outcome.Replayed, outcome.Status)
	}
}

func TestSubmitTransferInsufficientFunds(t *testing.T) {
	repo := &stubRepository{
		admit: freshAdmission(7, 1, 2, 5_000),
		locked: &stubLockedAccounts{
			from: &domain.Account{ID: 1, Balance: 4_999},
			to:   &domain.Account{ID: 2, Balance: 0},
		},
	}
	statusEvents := &captureStatusPublisher{}
	svc := NewService(repo, approvingRisk(), &stubPaymentExecutor{}, nil, statusEvents, time.Second, 100_000_000, time.Second)

	_, err := svc.SubmitTransfer(context.Background(), "key-1", "hash", 1, 2, 5_000)
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(repo.markedFailed) != 1 || repo.markedFailed[0] != 7 {
		t.Fatalf("expected transfer 7 marked failed, got %v", repo.markedFailed)
	}
	if repo.failureKey != "key-1" || repo.failureStatus != http.StatusBadRequest {
		t.Fatalf("expected failure result stored under key-1 with 400, got key=%s status=%d", repo.failureKey, repo.failureStatus)
	}
	if len(statusEvents.events) != 1 || statusEvents.events[0].Status != domain.TransferStatusFailed {
		t.Fatalf("expected failed status event, got %v", statusEvents.events)
	}
}

func TestSubmitTransferRiskRejectFailsTransfer(t *testing.T) {
	repo := &stubRepository{
		admit: freshAdmission(7, 1, 2, 5_000),
		locked: &stubLockedAccounts{
			from: &domain.Account{ID: 1, Balance: 100_000},
			to:   &domain.Account{ID: 2, Balance: 0},
		},
	}
	risk := NewRiskEvaluator(
		&stubOTPVerifier{verified: true},
		&stubFraudScorer{assessment: &domain.RiskAssessment{Score: 55, Flags: []string{"HIGH_AMOUNT"}, Recommendation: domain.RiskReject}},
		time.Second, time.Second,
	)
	payments := &stubPaymentExecutor{result: &domain.PaymentResult{Success: true}}
	svc := NewService(repo, risk, payments, nil, nil, time.Second, 100_000_000, time.Second)

	_, err := svc.SubmitTransfer(context.Background(), "key-1", "hash", 1, 2, 5_000)
	var riskErr *RiskDeniedError
	if !errors.As(err, &riskErr) {
		t.Fatalf("expected RiskDeniedError, got %v", err)
	}
	if payments.calls != 0 {
		t.Fatal("payment must not execute after a risk reject")
	}
	if len(repo.markedFailed) != 1 {
		t.Fatalf("expected transfer marked failed, got %v", repo.markedFailed)
	}
	if len(repo.auditActions) != 1 || repo.auditActions[0] != "fraud_detected" {
		t.Fatalf("expected fraud_detected audit entry, got %v", repo.auditActions)
	}
	if repo.failureStatus != http.StatusBadRequest {
		t.Fatalf("expected stored 400 result, got %d", repo.failureStatus)
	}
}

func TestSubmitTransferReviewIsSoftBlocked(t *testing.T) {
	repo := &stubRepository{
		admit: freshAdmission(7, 1, 2, 5_000),
		locked: &stubLockedAccounts{
			from: &domain.Account{ID: 1, Balance: 100_000},
			to:   &domain.Account{ID: 2, Balance: 0},
		},
	}
	risk := NewRiskEvaluator(
		&stubOTPVerifier{verified: true},
		&stubFraudScorer{assessment: &domain.RiskAssessment{Score: 30, Flags: []string{"HIGH_AMOUNT"}, Recommendation: domain.RiskReview}},
		time.Second, time.Second,
	)
	svc := NewService(repo, risk, &stubPaymentExecutor{}, nil, nil, time.Second, 100_000_000, time.Second)

	_, err := svc.SubmitTransfer(context.Background(), "key-1", "hash", 1, 2, 5_000)
	var riskErr *RiskDeniedError
	if !errors.As(err, &riskErr) {
		t.Fatalf("expected RiskDeniedError, got %v", err)
	}
	if repo.failureStatus != http.StatusConflict {
		t.Fatalf("expected stored 409 result for review, got %d", repo.failureStatus)
	}
	if len(repo.auditActions) != 1 || repo.auditActions[0] != "fraud_review_required" {
		t.Fatalf("expected fraud_review_required audit entry, got %v", repo.auditActions)
	}
}

func TestSubmitTransferPaymentDeclined(t *testing.T) {
	repo := &stubRepository{
		admit: freshAdmission(7, 1, 2, 5_000),
		locked: &stubLockedAccounts{
			from: &domain.Account{ID: 1, Balance: 100_000},
			to:   &domain.Account{ID: 2, Balance: 0},
		},
	}
	payments := &stubPaymentExecutor{result: &domain.PaymentResult{Success: false}}
	svc := NewService(repo, approvingRisk(), payments, nil, nil, time.Second, 100_000_000, time.Second)

	_, err := svc.SubmitTransfer(context.Background(), "key-1", "hash", 1, 2, 5_000)
	if !errors.Is(err, ErrPaymentDeclined) {
		t.Fatalf("expected ErrPaymentDeclined, got %v", err)
	}
	if repo.locked.committed {
		t.Fatal("declined payment must not commit the ledger")
	}
	if repo.failureStatus != http.StatusBadRequest {
		t.Fatalf("expected stored 400 result, got %d", repo.failureStatus)
	}
}

func TestSubmitTransferPaymentTransportFailure(t *testing.T) {
	repo := &stubRepository{
		admit: freshAdmission(7, 1, 2, 5_000),
		locked: &stubLockedAccounts{
			from: &domain.Account{ID: 1, Balance: 100_000},
			to:   &domain.Account{ID: 2, Balance: 0},
		},
	}
	payments := &stubPaymentExecutor{err: errors.New("dial tcp: connection refused")}
	svc := NewService(repo, approvingRisk(), payments, nil, nil, time.Second, 100_000_000, time.Second)

	_, err := svc.SubmitTransfer(context.Background(), "key-1", "hash", 1, 2, 5_000)
	if !errors.Is(err, ErrExternalService) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if repo.failureStatus != http.StatusBadGateway {
		t.Fatalf("expected stored 502 result, got %d", repo.failureStatus)
	}
}

func TestSubmitTransferFailureWritesSurviveCanceledRequest(t *testing.T) {
	repo := &stubRepository{
		admit: freshAdmission(7, 1, 2, 5_000),
		locked: &stubLockedAccounts{
			from: &domain.Account{ID: 1, Balance: 100_000},
			to:   &domain.Account{ID: 2, Balance: 0},
		},
	}
	payments := &stubPaymentExecutor{err: context.Canceled}
	svc := NewService(repo, approvingRisk(), payments, nil, nil, time.Second, 100_000_000, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.SubmitTransfer(ctx, "key-1", "hash", 1, 2, 5_000)
	if !errors.Is(err, ErrExternalService) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if len(repo.markedFailed) != 1 || repo.markedFailed[0] != 7 {
		t.Fatalf("expected transfer 7 marked failed despite dead request context, got %v", repo.markedFailed)
	}
	if repo.markFailedCtxErr != nil {
		t.Fatalf("mark-failed write must run on a live context, got %v", repo.markFailedCtxErr)
	}
	if repo.failureKey != "key-1" || repo.failureCtxErr != nil {
		t.Fatalf("failure result must be stored on a live context, got key=%s ctxErr=%v", repo.failureKey, repo.failureCtxErr)
	}
}

func TestSubmitTransferLockTimeout(t *testing.T) {
	repo := &stubRepository{
		admit:   freshAdmission(7, 1, 2, 5_000),
		lockErr: store.ErrLockTimeout,
	}
	svc := NewService(repo, approvingRisk(), &stubPaymentExecutor{}, nil, nil, time.Second, 100_000_000, time.Second)

	_, err := svc.SubmitTransfer(context.Background(), "key-1", "hash", 1, 2, 5_000)
	if !errors.Is(err, store.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if repo.failureStatus != http.StatusServiceUnavailable {
		t.Fatalf("expected stored 503 result, got %d", repo.failureStatus)
	}
}

func TestSubmitTransferSuccess(t *testing.T) {
	locked := &stubLockedAccounts{
		from:   &domain.Account{ID: 1, Balance: 100_000},
		to:     &domain.Account{ID: 2, Balance: 20_000},
		commit: &domain.LedgerCommit{FromTransactionID: 11, ToTransactionID: 12, FromBalanceAfter: 95_000, ToBalanceAfter: 25_000},
	}
	repo := &stubRepository{
		admit:  freshAdmission(7, 1, 2, 5_000),
		locked: locked,
	}
	ledgerEvents := &captureLedgerPublisher{}
	statusEvents := &captureStatusPublisher{}
	payments := &stubPaymentExecutor{result: &domain.PaymentResult{Success: true, ExternalTransactionID: "ext-1"}}
	svc := NewService(repo, approvingRisk(), payments, ledgerEvents, statusEvents, time.Second, 100_000_000, time.Second)

	outcome, err := svc.SubmitTransfer(context.Background(), "key-1", "hash", 1, 2, 5_000)
	if err != nil {
		t.Fatalf("SubmitTransfer returned error: %v", err)
	}
	if outcome.Status != http.StatusCreated || outcome.Replayed {
		t.Fatalf("expected fresh 201 outcome, got status=%d replayed=%t", outcome.Status, outcome.Replayed)
	}
	if !locked.committed {
		t.Fatal("expected ledger commit")
	}
	if locked.storedStatus != http.StatusCreated {
		t.Fatalf("expected 201 stored as idempotent result, got %d", locked.storedStatus)
	}

	var resp struct {
		Message           string `json:"message"`
		TransferID        int64  `json:"transferId"`
		FromTransactionID int64  `json:"fromTransactionId"`
		ToTransactionID   int64  `json:"toTransactionId"`
	}
	if err := json.Unmarshal(outcome.Body, &resp); err != nil {
		t.Fatalf("response body is not valid JSON: %v", err)
	}
	if resp.TransferID != 7 || resp.FromTransactionID != 11 || resp.ToTransactionID != 12 {
		t.Fatalf("unexpected response ids: %+v", resp)
	}

	if len(ledgerEvents.batches) != 1 || len(ledgerEvents.batches[0]) != 2 {
		t.Fatalf("expected one batch with two ledger events, got %v", ledgerEvents.batches)
	}
	debit, credit := ledgerEvents.batches[0][0], ledgerEvents.batches[0][1]
	if debit.Amount != -5_000 || debit.BalanceAfter != 95_000 || debit.AccountID != 1 {
		t.Fatalf("unexpected debit event: %+v", debit)
	}
	if credit.Amount != 5_000 || credit.BalanceAfter != 25_000 || credit.AccountID != 2 {
		t.Fatalf("unexpected credit event: %+v", credit)
	}

	if len(statusEvents.events) != 1 || statusEvents.events[0].Status != domain.TransferStatusCompleted {
		t.Fatalf("expected completed status event, got %v", statusEvents.events)
	}
	if len(repo.markedFailed) != 0 {
		t.Fatalf("successful transfer must not be marked failed, got %v", repo.markedFailed)
	}
}

func TestGetTransferStatusNotFound(t *testing.T) {
	repo := &stubRepository{}
	svc := NewService(repo, approvingRisk(), &stubPaymentExecutor{}, nil, nil, time.Second, 100_000_000, time.Second)

	_, err := svc.GetTransferStatus(context.Background(), 99)
	if !errors.Is(err, store.ErrTransferNotFound) {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
}

/**
 * @description
 * This file defines the core domain models for the transfer-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents), which
 *   avoids floating-point inaccuracies with financial data. The API boundary
 *   accepts decimal amounts and converts them exactly or rejects them.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transfer status values. `pending` is the only non-terminal state; a transfer
// must never outlive its request in `pending`.
const (
	TransferStatusPending   = "pending"
	TransferStatusCompleted = "completed"
	TransferStatusFailed    = "failed"
)

// Ledger entry / transaction directions.
const (
	EntryTypeDebit  = "debit"
	EntryTypeCredit = "credit"
)

// Risk recommendations returned by the fraud evaluation.
const (
	RiskApprove = "approve"
	RiskReview  = "review"
	RiskReject  = "reject"
)

// Account represents a customer account row. The balance is mutated only while
// holding the account's row lock, inside the ledger commit.
type Account struct {
	ID        int64     `json:"id"`
	Balance   int64     `json:"balance"` // in cents
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transfer represents one logical client intent. The idempotency key is unique
// across all transfers; replays of the same key never create a second row.
type Transfer struct {
	ID             int64     `json:"id"`
	FromAccountID  int64     `json:"from_account_id"`
	ToAccountID    int64     `json:"to_account_id"`
	Amount         int64     `json:"amount"` // in cents
	IdempotencyKey string    `json:"idempotency_key"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Transaction is one leg of a completed transfer. Exactly two exist per
// completed transfer: a debit on the source and a credit on the destination.
type Transaction struct {
	ID         int64  `json:"id"`
	AccountID  int64  `json:"account_id"`
	TransferID int64  `json:"transfer_id"`
	Direction  string `json:"direction"`
	Amount     int64  `json:"amount"` // in cents
	Status     string `json:"status"`
}

// LedgerEntry is an append-only double-entry record carrying the post-operation
// balance snapshot for its account.
type LedgerEntry struct {
	ID            int64     `json:"id"`
	TransactionID int64     `json:"transaction_id"`
	AccountID     int64     `json:"account_id"`
	EntryType     string    `json:"entry_type"`
	Amount        int64     `json:"amount"` // in cents
	BalanceAfter  int64     `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

// RiskAssessment is the categorical output of the risk evaluation gating
// payment execution.
type RiskAssessment struct {
	Score          int      `json:"score"`
	Flags          []string `json:"flags"`
	Recommendation string   `json:"recommendation"`
}

// TransferIntent carries the facts the risk evaluator needs about a proposed
// transfer. Amounts are in cents.
type TransferIntent struct {
	TransferID    int64
	FromAccountID int64
	ToAccountID   int64
	Amount        int64
}

// PaymentResult reports the payment collaborator's decision. Success=false is
// an explicit decline; transport failures surface as errors instead.
type PaymentResult struct {
	Success               bool
	ExternalTransactionID string
}

// TransferRequest is the DTO for the POST /transfer API request. The amount is
// parsed as a decimal and converted to cents during validation.
type TransferRequest struct {
	FromAccountID int64           `json:"fromAccountId"`
	ToAccountID   int64           `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
}

// TransferResult is returned to the caller once a transfer reaches `completed`.
type TransferResult struct {
	TransferID        int64          `json:"transferId"`
	FromTransactionID int64          `json:"fromTransactionId"`
	ToTransactionID   int64          `json:"toTransactionId"`
	FraudRisk         RiskAssessment `json:"fraudRisk"`
}

// IdempotencyRecord is the stored admission state for one idempotency key.
// ResponseStatus/ResponseBody are set once the first attempt reaches a terminal
// outcome; until then a replay is an in-flight duplicate.
type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	TransferID     *int64
	ResponseStatus *int
	ResponseBody   []byte
	CreatedAt      time.Time
}

// LedgerCommit reports the rows produced by the atomic ledger commit.
type LedgerCommit struct {
	FromTransactionID int64
	ToTransactionID   int64
	FromBalanceAfter  int64
	ToBalanceAfter    int64
}

// LedgerUpdatedEvent is published to the ledger-events topic once per
// transaction leg after a transfer completes. Amount is signed: negative for
// the debit leg, positive for the credit leg.
type LedgerUpdatedEvent struct {
	EventType     string    `json:"eventType"`
	AccountID     int64     `json:"accountId"`
	TransactionID int64     `json:"transactionId"`
	Amount        int64     `json:"amount"`
	BalanceAfter  int64     `json:"balanceAfter"`
	Timestamp     time.Time `json:"timestamp"`
}

// TransferStatusEvent is published to the message fabric when a transfer
// reaches a terminal state, for sibling services that mirror transfer state.
type TransferStatusEvent struct {
	TransferID int64     `json:"transfer_id"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

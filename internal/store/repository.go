/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the transfer-service. By defining an interface,
 * we decouple the orchestration logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/paygrid/transfer-service/internal/domain"
)

// AdmitOutcome is the result of an idempotency admission. Exactly one of
// Transfer (fresh admission) or Existing (previously observed key) is set.
type AdmitOutcome struct {
	Fresh    bool
	Transfer *domain.Transfer
	Existing *domain.IdempotencyRecord
}

// LockedAccounts is the scoped handle over the critical section. Both account
// rows are locked for the lifetime of the handle; balances read through it are
// the freshest committed values. CommitTransfer is the only way balances are
// mutated.
type LockedAccounts interface {
	From() *domain.Account
	To() *domain.Account

	// CommitTransfer atomically applies the balance updates, inserts the
	// debit/credit transaction pair and their ledger entries, advances the
	// transfer to completed, and stores the idempotent response produced by
	// buildResponse. Either all of it persists or none of it does.
	CommitTransfer(ctx context.Context, t *domain.Transfer, buildResponse func(domain.LedgerCommit) (int, []byte, error)) (*domain.LedgerCommit, error)
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// AdmitTransfer atomically reserves an idempotency key and creates the
	// pending transfer row bound to it. A key seen before with a different
	// request hash fails with ErrIdempotencyMismatch. No two callers may both
	// observe a fresh admission for the same key.
	AdmitTransfer(ctx context.Context, key, requestHash string, fromAccountID, toAccountID, amount int64) (*AdmitOutcome, error)

	// GetIdempotencyRecord returns the admission state for a key, used by
	// replays waiting on an in-flight first attempt.
	GetIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error)

	// WithLockedAccounts runs fn while holding row locks on both accounts,
	// acquired in ascending id order. The locks are released on every exit
	// path; a non-nil error from fn rolls back everything staged inside the
	// critical section.
	WithLockedAccounts(ctx context.Context, fromAccountID, toAccountID int64, fn func(ctx context.Context, locked LockedAccounts) error) error

	// MarkTransferFailed drives a pending transfer to failed. Terminal states
	// are immutable: completed or already-failed transfers are left untouched.
	MarkTransferFailed(ctx context.Context, transferID int64) error

	// StoreFailureResult records the terminal error response under the key so
	// replays converge on the first attempt's outcome.
	StoreFailureResult(ctx context.Context, key string, responseStatus int, responseBody []byte) error

	GetTransferByID(ctx context.Context, transferID int64) (*domain.Transfer, error)

	// FailStalePendingTransfers fails every pending transfer older than
	// olderThan and stores responseStatus/responseBody under their keys, in a
	// single transaction. It returns the number of transfers swept.
	FailStalePendingTransfers(ctx context.Context, olderThan time.Duration, responseStatus int, responseBody []byte) (int64, error)

	// RecordAuditLog appends an audit row; used for fraud decisions.
	RecordAuditLog(ctx context.Context, action, resourceType string, metadata any) error
}

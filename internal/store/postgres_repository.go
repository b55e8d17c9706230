/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL needed by the transfer orchestration core: atomic
 * idempotency admission, ordered row locking, the single-transaction ledger
 * commit, and the stale-pending reconciliation sweep.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paygrid/transfer-service/internal/domain"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransferNotFound    = errors.New("transfer not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrIdempotencyMismatch = errors.New("idempotency key reuse with mismatched payload")
	ErrLockTimeout         = errors.New("account lock acquisition timed out")
)

const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresRepository creates a new instance of PostgresRepository.
// lockTimeout bounds row-lock acquisition inside the critical section.
func NewPostgresRepository(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresRepository {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &PostgresRepository{db: db, lockTimeout: lockTimeout}
}

// EnsureSchema creates the required tables if they do not exist (idempotent).
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS accounts (
            id BIGSERIAL PRIMARY KEY,
            balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
            currency TEXT NOT NULL DEFAULT 'USD',
            status TEXT NOT NULL DEFAULT 'active',
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS transfers (
            id BIGSERIAL PRIMARY KEY,
            from_account_id BIGINT NOT NULL,
            to_account_id BIGINT NOT NULL,
            amount BIGINT NOT NULL CHECK (amount > 0),
            idempotency_key TEXT NOT NULL UNIQUE,
            status TEXT NOT NULL DEFAULT 'pending',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE INDEX IF NOT EXISTS idx_transfers_status_created ON transfers (status, created_at);
        CREATE TABLE IF NOT EXISTS transactions (
            id BIGSERIAL PRIMARY KEY,
            account_id BIGINT NOT NULL,
            transfer_id BIGINT NOT NULL REFERENCES transfers (id),
            direction TEXT NOT NULL,
            amount BIGINT NOT NULL,
            status TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS ledger (
            id BIGSERIAL PRIMARY KEY,
            transaction_id BIGINT NOT NULL REFERENCES transactions (id),
            account_id BIGINT NOT NULL,
            entry_type TEXT NOT NULL,
            amount BIGINT NOT NULL,
            balance_after BIGINT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger (account_id, created_at);
        CREATE TABLE IF NOT EXISTS idempotency_keys (
            key TEXT PRIMARY KEY,
            request_hash TEXT NOT NULL,
            transfer_id BIGINT,
            response_status INT,
            response_body JSONB,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS audit_logs (
            id BIGSERIAL PRIMARY KEY,
            service_name TEXT NOT NULL,
            action TEXT NOT NULL,
            resource_type TEXT NOT NULL,
            metadata JSONB,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
    `)
	if err != nil {
		return fmt.Errorf("schema bootstrap failed: %w", err)
	}
	return nil
}

// AdmitTransfer reserves the idempotency key and creates the pending transfer
// row in one transaction. The unique constraint on idempotency_keys.key is the
// atomic check-and-reserve: under a concurrent identical-key race exactly one
// caller inserts, the other re-reads the winner's record.
func (r *PostgresRepository) AdmitTransfer(ctx context.Context, key, requestHash string, fromAccountID, toAccountID, amount int64) (*AdmitOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("admission tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := r.findIdempotencyRecord(ctx, tx, key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	if existing != nil {
		if existing.RequestHash != requestHash {
			return nil, ErrIdempotencyMismatch
		}
		return &AdmitOutcome{Existing: existing}, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO idempotency_keys (key, request_hash) VALUES ($1, $2)`,
		key, requestHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// Lost the admission race; the winner's record is authoritative.
			record, lookupErr := r.GetIdempotencyRecord(ctx, key)
			if lookupErr != nil {
				return nil, fmt.Errorf("idempotency race re-read failed: %w", lookupErr)
			}
			if record.RequestHash != requestHash {
				return nil, ErrIdempotencyMismatch
			}
			return &AdmitOutcome{Existing: record}, nil
		}
		return nil, fmt.Errorf("idempotency key reservation failed: %w", err)
	}

	transfer := &domain.Transfer{
		FromAccountID:  fromAccountID,
		ToAccountID:    toAccountID,
		Amount:         amount,
		IdempotencyKey: key,
		Status:         domain.TransferStatusPending,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO transfers (from_account_id, to_account_id, amount, idempotency_key, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		fromAccountID, toAccountID, amount, key, domain.TransferStatusPending,
	).Scan(&transfer.ID, &transfer.CreatedAt, &transfer.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("pending transfer insert failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE idempotency_keys SET transfer_id = $1 WHERE key = $2`,
		transfer.ID, key,
	)
	if err != nil {
		return nil, fmt.Errorf("idempotency key binding failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("admission tx commit failed: %w", err)
	}
	return &AdmitOutcome{Fresh: true, Transfer: transfer}, nil
}

// GetIdempotencyRecord returns the admission state for a key.
func (r *PostgresRepository) GetIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	record, err := r.findIdempotencyRecord(ctx, r.db, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return record, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresRepository) findIdempotencyRecord(ctx context.Context, q rowQuerier, key string) (*domain.IdempotencyRecord, error) {
	var record domain.IdempotencyRecord
	err := q.QueryRow(ctx,
		`SELECT key, request_hash, transfer_id, response_status, response_body, created_at
		 FROM idempotency_keys WHERE key = $1`,
		key,
	).Scan(&record.Key, &record.RequestHash, &record.TransferID, &record.ResponseStatus, &record.ResponseBody, &record.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// lockedAccounts implements LockedAccounts over a held pgx transaction.
type lockedAccounts struct {
	tx   pgx.Tx
	from *domain.Account
	to   *domain.Account
}

func (l *lockedAccounts) From() *domain.Account { return l.from }
func (l *lockedAccounts) To() *domain.Account   { return l.to }

// WithLockedAccounts acquires FOR UPDATE row locks on both accounts in
// ascending id order, bounded by lock_timeout. A self-transfer locks its single
// row once. The deferred rollback guarantees release on every exit path;
// a nil error from fn commits whatever fn staged through the handle.
func (r *PostgresRepository) WithLockedAccounts(ctx context.Context, fromAccountID, toAccountID int64, fn func(ctx context.Context, locked LockedAccounts) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("lock tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	timeoutMs := r.lockTimeout.Milliseconds()
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeoutMs)); err != nil {
		return fmt.Errorf("lock timeout setup failed: %w", err)
	}

	firstID, secondID, fromIsFirst := LockOrder(fromAccountID, toAccountID)

	first, err := lockAccount(ctx, tx, firstID)
	if err != nil {
		return err
	}
	second := first
	if secondID != firstID {
		second, err = lockAccount(ctx, tx, secondID)
		if err != nil {
			return err
		}
	}

	locked := &lockedAccounts{tx: tx}
	if fromIsFirst {
		locked.from, locked.to = first, second
	} else {
		locked.from, locked.to = second, first
	}

	if err := fn(ctx, locked); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("critical section commit failed: %w", err)
	}
	return nil
}

// LockOrder returns the two account ids in acquisition order. Locks are always
// taken in ascending id order regardless of transfer direction, so two requests
// over the same pair serialize instead of deadlocking; fromIsFirst reports
// whether the first-locked row is the source account. A self-transfer yields
// the same id twice and is locked once.
func LockOrder(fromAccountID, toAccountID int64) (firstID, secondID int64, fromIsFirst bool) {
	if fromAccountID > toAccountID {
		return toAccountID, fromAccountID, false
	}
	return fromAccountID, toAccountID, true
}

func lockAccount(ctx context.Context, tx pgx.Tx, accountID int64) (*domain.Account, error) {
	var account domain.Account
	err := tx.QueryRow(ctx,
		`SELECT id, balance, currency, status, updated_at FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&account.ID, &account.Balance, &account.Currency, &account.Status, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return nil, ErrLockTimeout
		}
		return nil, fmt.Errorf("account lock acquisition failed: %w", err)
	}
	return &account, nil
}

// CommitTransfer applies the whole ledger commit through the held transaction.
// Balances are computed from the values read under the lock; the debit is
// applied before the credit so a self-transfer nets to zero while still
// producing two distinct transactions and ledger entries.
func (l *lockedAccounts) CommitTransfer(ctx context.Context, t *domain.Transfer, buildResponse func(domain.LedgerCommit) (int, []byte, error)) (*domain.LedgerCommit, error) {
	newFrom, newTo, err := ApplyTransferBalances(l.from.Balance, l.to.Balance, t.Amount, l.from.ID == l.to.ID)
	if err != nil {
		return nil, err
	}

	if l.from.ID == l.to.ID {
		if _, err := l.tx.Exec(ctx,
			`UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2`,
			newTo, l.from.ID,
		); err != nil {
			return nil, fmt.Errorf("self-transfer balance update failed: %w", err)
		}
	} else {
		if _, err := l.tx.Exec(ctx,
			`UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2`,
			newFrom, l.from.ID,
		); err != nil {
			return nil, fmt.Errorf("source balance update failed: %w", err)
		}
		if _, err := l.tx.Exec(ctx,
			`UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2`,
			newTo, l.to.ID,
		); err != nil {
			return nil, fmt.Errorf("destination balance update failed: %w", err)
		}
	}

	commit := domain.LedgerCommit{FromBalanceAfter: newFrom, ToBalanceAfter: newTo}

	err = l.tx.QueryRow(ctx,
		`INSERT INTO transactions (account_id, transfer_id, direction, amount, status)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		l.from.ID, t.ID, domain.EntryTypeDebit, t.Amount, domain.TransferStatusCompleted,
	).Scan(&commit.FromTransactionID)
	if err != nil {
		return nil, fmt.Errorf("debit transaction insert failed: %w", err)
	}
	err = l.tx.QueryRow(ctx,
		`INSERT INTO transactions (account_id, transfer_id, direction, amount, status)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		l.to.ID, t.ID, domain.EntryTypeCredit, t.Amount, domain.TransferStatusCompleted,
	).Scan(&commit.ToTransactionID)
	if err != nil {
		return nil, fmt.Errorf("credit transaction insert failed: %w", err)
	}

	if _, err := l.tx.Exec(ctx,
		`INSERT INTO ledger (transaction_id, account_id, entry_type, amount, balance_after)
		 VALUES ($1, $2, $3, $4, $5), ($6, $7, $8, $9, $10)`,
		commit.FromTransactionID, l.from.ID, domain.EntryTypeDebit, t.Amount, newFrom,
		commit.ToTransactionID, l.to.ID, domain.EntryTypeCredit, t.Amount, newTo,
	); err != nil {
		return nil, fmt.Errorf("ledger entry insert failed: %w", err)
	}

	tag, err := l.tx.Exec(ctx,
		`UPDATE transfers SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		domain.TransferStatusCompleted, t.ID, domain.TransferStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("transfer completion failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("transfer %d is no longer pending: %w", t.ID, ErrTransferNotFound)
	}

	status, body, err := buildResponse(commit)
	if err != nil {
		return nil, fmt.Errorf("response build failed: %w", err)
	}
	if _, err := l.tx.Exec(ctx,
		`UPDATE idempotency_keys SET response_status = $1, response_body = $2 WHERE key = $3`,
		status, body, t.IdempotencyKey,
	); err != nil {
		return nil, fmt.Errorf("idempotency result store failed: %w", err)
	}

	return &commit, nil
}

// ApplyTransferBalances computes post-commit balances. The debit applies before
// the credit, so a self-transfer passes through balance-amount before returning
// to the original balance. A negative outcome is refused; no code path may
// persist a negative balance.
func ApplyTransferBalances(fromBalance, toBalance, amount int64, selfTransfer bool) (newFrom, newTo int64, err error) {
	newFrom = fromBalance - amount
	if newFrom < 0 {
		return 0, 0, ErrInsufficientFunds
	}
	if selfTransfer {
		newTo = newFrom + amount
	} else {
		newTo = toBalance + amount
	}
	return newFrom, newTo, nil
}

// MarkTransferFailed drives a pending transfer to failed. The status guard
// keeps terminal states immutable.
func (r *PostgresRepository) MarkTransferFailed(ctx context.Context, transferID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE transfers SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		domain.TransferStatusFailed, transferID, domain.TransferStatusPending,
	)
	if err != nil {
		return fmt.Errorf("transfer failure update failed: %w", err)
	}
	return nil
}

// StoreFailureResult records the terminal error response for a key.
func (r *PostgresRepository) StoreFailureResult(ctx context.Context, key string, responseStatus int, responseBody []byte) error {
	_, err := r.db.Exec(ctx,
		`UPDATE idempotency_keys SET response_status = $1, response_body = $2
		 WHERE key = $3 AND response_status IS NULL`,
		responseStatus, responseBody, key,
	)
	if err != nil {
		return fmt.Errorf("failure result store failed: %w", err)
	}
	return nil
}

// GetTransferByID retrieves a transfer row by its id.
func (r *PostgresRepository) GetTransferByID(ctx context.Context, transferID int64) (*domain.Transfer, error) {
	var t domain.Transfer
	err := r.db.QueryRow(ctx,
		`SELECT id, from_account_id, to_account_id, amount, idempotency_key, status, created_at, updated_at
		 FROM transfers WHERE id = $1`,
		transferID,
	).Scan(&t.ID, &t.FromAccountID, &t.ToAccountID, &t.Amount, &t.IdempotencyKey, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return &t, nil
}

// FailStalePendingTransfers sweeps pending transfers older than olderThan into
// failed and stores the supplied response under their idempotency keys, all in
// one transaction. A pending transfer past its request lifetime is a crash
// artifact; the sweep is the recovery safety net.
func (r *PostgresRepository) FailStalePendingTransfers(ctx context.Context, olderThan time.Duration, responseStatus int, responseBody []byte) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`UPDATE transfers SET status = $1, updated_at = NOW()
		 WHERE status = $2 AND created_at < NOW() - ($3 * INTERVAL '1 second')
		 RETURNING idempotency_key`,
		domain.TransferStatusFailed, domain.TransferStatusPending, int64(olderThan.Seconds()),
	)
	if err != nil {
		return 0, fmt.Errorf("stale transfer sweep failed: %w", err)
	}
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return 0, fmt.Errorf("stale transfer scan failed: %w", err)
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("stale transfer iteration failed: %w", err)
	}

	for _, key := range keys {
		if _, err := tx.Exec(ctx,
			`UPDATE idempotency_keys SET response_status = $1, response_body = $2
			 WHERE key = $3 AND response_status IS NULL`,
			responseStatus, responseBody, key,
		); err != nil {
			return 0, fmt.Errorf("stale key result store failed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("sweep tx commit failed: %w", err)
	}
	return int64(len(keys)), nil
}

// RecordAuditLog appends an audit row with a JSON metadata payload.
func (r *PostgresRepository) RecordAuditLog(ctx context.Context, action, resourceType string, metadata any) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("audit metadata marshal failed: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO audit_logs (service_name, action, resource_type, metadata) VALUES ($1, $2, $3, $4)`,
		"transfer-service", action, resourceType, payload,
	)
	if err != nil {
		return fmt.Errorf("audit log insert failed: %w", err)
	}
	return nil
}

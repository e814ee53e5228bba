// Package sqlite provides a SQLite-backed transaction ledger.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashendes/petadoption-payments/internal/ledger"
	"github.com/ashendes/petadoption-payments/internal/ledger/sqlite/migrations"
	"github.com/ashendes/petadoption-payments/internal/models"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists transactions in SQLite
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite ledger at path and applies embedded migrations
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Create inserts a pending transaction
func (s *Store) Create(ctx context.Context, txn models.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(txn.ID) == "" {
		return fmt.Errorf("transaction id is required")
	}
	createdAt := txn.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO transactions (
		   transaction_id,
		   status,
		   amount,
		   currency,
		   payment_method,
		   donor_email,
		   donation_category,
		   idempotency_key,
		   created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		string(txn.Status),
		txn.Amount,
		txn.Currency,
		string(txn.PaymentMethod),
		txn.DonorEmail,
		string(txn.DonationCategory),
		txn.IdempotencyKey,
		toMillis(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrAlreadyExists
		}
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// MarkCompleted moves a pending transaction to completed
func (s *Store) MarkCompleted(ctx context.Context, id, receiptReference string) (models.Transaction, error) {
	return s.settle(ctx, id,
		`UPDATE transactions
		    SET status = 'completed', receipt_reference = ?, settled_at = ?
		  WHERE transaction_id = ? AND status = 'pending'`,
		receiptReference,
	)
}

// MarkFailed moves a pending transaction to failed
func (s *Store) MarkFailed(ctx context.Context, id string, reason models.FailureReason) (models.Transaction, error) {
	return s.settle(ctx, id,
		`UPDATE transactions
		    SET status = 'failed', failure_reason = ?, settled_at = ?
		  WHERE transaction_id = ? AND status = 'pending'`,
		string(reason),
	)
}

func (s *Store) settle(ctx context.Context, id, query, detail string) (models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return models.Transaction{}, err
	}
	res, err := s.sqlDB.ExecContext(ctx, query, detail, toMillis(s.now()), id)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("settle transaction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return models.Transaction{}, fmt.Errorf("settle transaction: %w", err)
	}
	if rows == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return models.Transaction{}, err
		}
		return models.Transaction{}, ledger.ErrNotPending
	}
	return s.Get(ctx, id)
}

// Get returns one transaction by id
func (s *Store) Get(ctx context.Context, id string) (models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return models.Transaction{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT transaction_id, status, amount, currency, payment_method,
		        donor_email, donation_category, idempotency_key,
		        receipt_reference, failure_reason, created_at, settled_at
		   FROM transactions
		  WHERE transaction_id = ?`,
		id,
	)

	var (
		txn       models.Transaction
		status    string
		method    string
		category  string
		reason    string
		createdAt int64
		settledAt sql.NullInt64
	)
	err := row.Scan(
		&txn.ID,
		&status,
		&txn.Amount,
		&txn.Currency,
		&method,
		&txn.DonorEmail,
		&category,
		&txn.IdempotencyKey,
		&txn.ReceiptReference,
		&reason,
		&createdAt,
		&settledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Transaction{}, ledger.ErrNotFound
		}
		return models.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}

	txn.Status = models.TransactionStatus(status)
	txn.PaymentMethod = models.PaymentMethod(method)
	txn.DonationCategory = models.DonationCategory(category)
	txn.FailureReason = models.FailureReason(reason)
	txn.CreatedAt = fromMillis(createdAt)
	if settledAt.Valid {
		at := fromMillis(settledAt.Int64)
		txn.SettledAt = &at
	}
	return txn, nil
}

// GetByIdempotencyKey returns the transaction created with key
func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error) {
	if key == "" {
		return models.Transaction{}, ledger.ErrNotFound
	}
	var id string
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT transaction_id FROM transactions WHERE idempotency_key = ?`,
		key,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Transaction{}, ledger.ErrNotFound
		}
		return models.Transaction{}, fmt.Errorf("get transaction by idempotency key: %w", err)
	}
	return s.Get(ctx, id)
}

// ListPending returns pending transactions created before cutoff, oldest
// first. Reconciliation uses it to find transactions orphaned by a crash
// between creation and settlement.
func (s *Store) ListPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT transaction_id
		   FROM transactions
		  WHERE status = 'pending' AND created_at < ?
		  ORDER BY created_at ASC
		  LIMIT ?`,
		toMillis(cutoff),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending transactions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list pending transactions: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list pending transactions: %w", err)
	}
	rows.Close()

	pending := make([]models.Transaction, 0, len(ids))
	for _, id := range ids {
		txn, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		pending = append(pending, txn)
	}
	return pending, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ ledger.Ledger = (*Store)(nil)

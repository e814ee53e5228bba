// Package ledger defines the durable record of donation transactions.
//
// A transaction is created pending and moves exactly once to completed or
// failed. Implementations must make both the create and the transition
// conditional so that concurrent writers cannot produce a second row or a
// second transition.
package ledger

import (
	"context"
	"errors"

	"github.com/ashendes/petadoption-payments/internal/models"
)

var (
	// ErrNotFound is returned when no transaction has the requested id.
	ErrNotFound = errors.New("transaction not found")
	// ErrAlreadyExists is returned when creating a transaction whose id is taken.
	ErrAlreadyExists = errors.New("transaction already exists")
	// ErrNotPending is returned when transitioning a transaction that is
	// already terminal.
	ErrNotPending = errors.New("transaction is not pending")
)

// Ledger stores transactions keyed by transaction id
type Ledger interface {
	Create(ctx context.Context, txn models.Transaction) error
	MarkCompleted(ctx context.Context, id, receiptReference string) (models.Transaction, error)
	MarkFailed(ctx context.Context, id string, reason models.FailureReason) (models.Transaction, error)
	Get(ctx context.Context, id string) (models.Transaction, error)
	// GetByIdempotencyKey returns the transaction created with key. It
	// outlives the idempotency store's retention window.
	GetByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error)
}

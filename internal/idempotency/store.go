// Package idempotency maps caller-supplied idempotency keys to the
// transaction id issued for the first request carrying them.
package idempotency

import "context"

// Store records idempotency keys for a bounded retention window.
type Store interface {
	// Lookup returns the transaction id reserved for key, if any.
	Lookup(ctx context.Context, key string) (string, bool, error)
	// Reserve atomically records key -> transactionID. It returns false when
	// the key is already reserved; the existing mapping is left untouched.
	Reserve(ctx context.Context, key, transactionID string) (bool, error)
	// Release drops the reservation of key if it still maps to
	// transactionID, so that a request whose transaction was never recorded
	// can be retried with the same key.
	Release(ctx context.Context, key, transactionID string) error
}

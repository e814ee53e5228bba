package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ashendes/petadoption-payments/internal/models"
)

// Memory keeps transactions in process memory
type Memory struct {
	transactions map[string]models.Transaction
	keys         map[string]string
	mutex        sync.RWMutex
	now          func() time.Time
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[string]models.Transaction),
		keys:         make(map[string]string),
		now:          time.Now,
	}
}

// Create implements Ledger
func (m *Memory) Create(ctx context.Context, txn models.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if txn.ID == "" {
		return fmt.Errorf("transaction id is required")
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.transactions[txn.ID]; exists {
		return ErrAlreadyExists
	}
	if txn.IdempotencyKey != "" {
		if _, taken := m.keys[txn.IdempotencyKey]; taken {
			return ErrAlreadyExists
		}
		m.keys[txn.IdempotencyKey] = txn.ID
	}
	m.transactions[txn.ID] = txn
	return nil
}

// MarkCompleted implements Ledger
func (m *Memory) MarkCompleted(ctx context.Context, id, receiptReference string) (models.Transaction, error) {
	return m.settle(ctx, id, func(txn *models.Transaction) {
		txn.Status = models.TransactionStatusCompleted
		txn.ReceiptReference = receiptReference
	})
}

// MarkFailed implements Ledger
func (m *Memory) MarkFailed(ctx context.Context, id string, reason models.FailureReason) (models.Transaction, error) {
	return m.settle(ctx, id, func(txn *models.Transaction) {
		txn.Status = models.TransactionStatusFailed
		txn.FailureReason = reason
	})
}

func (m *Memory) settle(ctx context.Context, id string, apply func(*models.Transaction)) (models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return models.Transaction{}, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	txn, exists := m.transactions[id]
	if !exists {
		return models.Transaction{}, ErrNotFound
	}
	if txn.Status != models.TransactionStatusPending {
		return models.Transaction{}, ErrNotPending
	}
	apply(&txn)
	settledAt := m.now().UTC()
	txn.SettledAt = &settledAt
	m.transactions[id] = txn
	return txn, nil
}

// Get implements Ledger
func (m *Memory) Get(ctx context.Context, id string) (models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return models.Transaction{}, err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	txn, exists := m.transactions[id]
	if !exists {
		return models.Transaction{}, ErrNotFound
	}
	return txn, nil
}

// GetByIdempotencyKey implements Ledger
func (m *Memory) GetByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return models.Transaction{}, err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	id, ok := m.keys[key]
	if !ok || key == "" {
		return models.Transaction{}, ErrNotFound
	}
	return m.transactions[id], nil
}

// Len returns the number of stored transactions
func (m *Memory) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.transactions)
}

var _ Ledger = (*Memory)(nil)

package patterns

import (
	"context"
	"errors"
	"time"

	"github.com/ashendes/petadoption-payments/internal/metrics"
)

// ErrBulkheadFull is returned when no slot frees up within the acquire wait
var ErrBulkheadFull = errors.New("bulkhead full")

// Bulkhead limits concurrent calls to one gateway
type Bulkhead struct {
	semaphore   chan struct{}
	acquireWait time.Duration
	name        string
	service     string
}

// NewBulkhead creates a new bulkhead with specified capacity
func NewBulkhead(size int, acquireWait time.Duration, name, service string) *Bulkhead {
	return &Bulkhead{
		semaphore:   make(chan struct{}, size),
		acquireWait: acquireWait,
		name:        name,
		service:     service,
	}
}

// Execute runs fn once a slot is free. It gives up after the acquire wait or
// when ctx is done, whichever comes first.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	timer := time.NewTimer(b.acquireWait)
	defer timer.Stop()

	select {
	case b.semaphore <- struct{}{}:
		metrics.BulkheadActiveRequests.WithLabelValues(b.service, b.name).Inc()

		defer func() {
			<-b.semaphore
			metrics.BulkheadActiveRequests.WithLabelValues(b.service, b.name).Dec()
		}()

		return fn()

	case <-timer.C:
		metrics.BulkheadRejectedRequests.WithLabelValues(b.service, b.name).Inc()
		return ErrBulkheadFull

	case <-ctx.Done():
		metrics.BulkheadRejectedRequests.WithLabelValues(b.service, b.name).Inc()
		return ctx.Err()
	}
}

// GetName returns the bulkhead name
func (b *Bulkhead) GetName() string {
	return b.name
}

package notify

import (
	"context"
	"sync"
	"time"

	"github.com/ashendes/petadoption-payments/internal/metrics"
	"github.com/ashendes/petadoption-payments/internal/patterns"
	log "github.com/sirupsen/logrus"
)

// BestEffort runs a dispatcher in the background so the caller never waits on
// or fails because of a notification.
type BestEffort struct {
	name    string
	next    Dispatcher
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewBestEffort wraps next. name labels metrics and logs.
func NewBestEffort(name string, next Dispatcher, timeout time.Duration) *BestEffort {
	if timeout <= 0 {
		timeout = patterns.NotificationTimeout
	}
	return &BestEffort{name: name, next: next, timeout: timeout}
}

// Notify implements Dispatcher. It always returns nil; failures are logged.
func (b *BestEffort) Notify(ctx context.Context, transactionID string) error {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		sendCtx, cancel := patterns.Detached(ctx, b.timeout)
		defer cancel()

		if err := b.next.Notify(sendCtx, transactionID); err != nil {
			metrics.NotificationsTotal.WithLabelValues(b.name, "failed").Inc()
			log.WithFields(log.Fields{
				"transaction_id": transactionID,
				"dispatcher":     b.name,
				"error":          err.Error(),
			}).Warn("Donation notification failed")
			return
		}
		metrics.NotificationsTotal.WithLabelValues(b.name, "sent").Inc()
	}()
	return nil
}

// Wait blocks until every pending notification finished or ctx is done
func (b *BestEffort) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

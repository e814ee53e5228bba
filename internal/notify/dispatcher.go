// Package notify tells downstream systems that a donation completed. Delivery
// is best effort: a failed notification never changes a transaction.
package notify

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// EventDonationCompleted is the event type carried by every notification
const EventDonationCompleted = "donation.completed"

// Dispatcher hands a completed transaction id to a notification channel
type Dispatcher interface {
	Notify(ctx context.Context, transactionID string) error
}

// Event is the payload published for a completed donation
type Event struct {
	EventType  string    `json:"event_type"`
	EventID    string    `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       EventData `json:"data"`
}

// EventData identifies the transaction the event refers to
type EventData struct {
	TransactionID string `json:"transaction_id"`
}

// LogDispatcher only logs the notification. It is used when no channel is
// configured.
type LogDispatcher struct{}

// Notify implements Dispatcher
func (LogDispatcher) Notify(ctx context.Context, transactionID string) error {
	log.WithField("transaction_id", transactionID).Info("Donation completed notification")
	return nil
}

// Multi fans a notification out to several dispatchers and joins their errors
type Multi []Dispatcher

// Notify implements Dispatcher
func (m Multi) Notify(ctx context.Context, transactionID string) error {
	var errs []error
	for _, d := range m {
		if err := d.Notify(ctx, transactionID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

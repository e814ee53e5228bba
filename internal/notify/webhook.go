package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// WebhookDispatcher posts donation events to the notification function
type WebhookDispatcher struct {
	client *resty.Client
	url    string
	now    func() time.Time
}

// NewWebhookDispatcher creates a dispatcher posting to url
func NewWebhookDispatcher(url string, timeout time.Duration) *WebhookDispatcher {
	return &WebhookDispatcher{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		url: url,
		now: time.Now,
	}
}

// Notify implements Dispatcher
func (w *WebhookDispatcher) Notify(ctx context.Context, transactionID string) error {
	event := Event{
		EventType:  EventDonationCompleted,
		EventID:    uuid.NewString(),
		OccurredAt: w.now().UTC(),
		Data:       EventData{TransactionID: transactionID},
	}
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(event).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode())
	}
	return nil
}

package patterns

import (
	"context"
	"time"
)

// GatewayTimeout bounds a single settlement call to a payment gateway
const GatewayTimeout = 10 * time.Second

// NotificationTimeout bounds one best-effort notification attempt
const NotificationTimeout = 5 * time.Second

// ReplayPollInterval is how often a replayed request re-reads the ledger
// while the original request is still settling
const ReplayPollInterval = 50 * time.Millisecond

// Detached returns a context carrying parent's values but not its
// cancellation, bounded by duration. Settlement runs on it so that a client
// disconnect cannot abort a charge midway.
func Detached(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), duration)
}

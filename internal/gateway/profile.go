// Package gateway defines payment gateway profiles and the registry that
// picks one for a (currency, payment method) pair.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashendes/petadoption-payments/internal/models"
)

// Charge is what a profile needs to settle one transaction
type Charge struct {
	TransactionID string
	Amount        int64
	Currency      string
	Method        models.PaymentMethod
	DonorEmail    string
	Description   string
}

// Receipt is the proof of a successful settlement
type Receipt struct {
	Reference string
}

// Profile is one configured way of reaching a payment provider
type Profile interface {
	Name() string
	Charge(ctx context.Context, charge Charge) (Receipt, error)
}

// Error is a settlement failure classified into the failure taxonomy. Err
// keeps the provider detail for logs; it is never shown to the caller.
type Error struct {
	Reason  models.FailureReason
	Gateway string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway %s: %s", e.Gateway, e.Reason)
	}
	return fmt.Sprintf("gateway %s: %s: %v", e.Gateway, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ReasonOf classifies any error returned by a profile
func ReasonOf(err error) models.FailureReason {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ReasonGatewayTimeout
	}
	return models.ReasonGatewayMalformedResponse
}

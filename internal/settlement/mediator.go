// Package settlement drives a pending transaction through a gateway profile
// and records the outcome in the ledger.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/ashendes/petadoption-payments/internal/gateway"
	"github.com/ashendes/petadoption-payments/internal/ledger"
	"github.com/ashendes/petadoption-payments/internal/metrics"
	"github.com/ashendes/petadoption-payments/internal/models"
	"github.com/ashendes/petadoption-payments/internal/notify"
	"github.com/ashendes/petadoption-payments/internal/patterns"
	log "github.com/sirupsen/logrus"
)

// Resolver picks the gateway profile for a (currency, method) pair
type Resolver interface {
	Resolve(currency string, method models.PaymentMethod) (gateway.Profile, bool)
}

// Config wires a Mediator
type Config struct {
	Gateways Resolver
	Ledger   ledger.Ledger
	Notifier notify.Dispatcher
	Timeout  time.Duration
}

// Mediator settles transactions
type Mediator struct {
	gateways Resolver
	ledger   ledger.Ledger
	notifier notify.Dispatcher
	timeout  time.Duration
}

// NewMediator creates a mediator. A zero timeout uses patterns.GatewayTimeout
// and a nil notifier only logs.
func NewMediator(cfg Config) *Mediator {
	m := &Mediator{
		gateways: cfg.Gateways,
		ledger:   cfg.Ledger,
		notifier: cfg.Notifier,
		timeout:  cfg.Timeout,
	}
	if m.timeout <= 0 {
		m.timeout = patterns.GatewayTimeout
	}
	if m.notifier == nil {
		m.notifier = notify.LogDispatcher{}
	}
	return m
}

// Settle charges txn through its gateway and returns the terminal
// transaction. Gateway failures are recorded on the transaction, not
// returned; an error means the ledger could not be updated.
//
// The charge runs on a context detached from ctx's cancellation so that a
// caller going away cannot leave a charge half done.
func (m *Mediator) Settle(ctx context.Context, txn models.Transaction) (models.Transaction, error) {
	logger := log.WithFields(log.Fields{
		"transaction_id": txn.ID,
		"currency":       txn.Currency,
		"payment_method": txn.PaymentMethod,
	})

	profile, ok := m.gateways.Resolve(txn.Currency, txn.PaymentMethod)
	if !ok {
		logger.Warn("No gateway configured for currency and payment method")
		return m.fail(ctx, txn.ID, models.ReasonNoGatewayConfigured)
	}
	logger = logger.WithField("gateway", profile.Name())

	chargeCtx, cancel := patterns.Detached(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	receipt, err := profile.Charge(chargeCtx, gateway.Charge{
		TransactionID: txn.ID,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		Method:        txn.PaymentMethod,
		DonorEmail:    txn.DonorEmail,
		Description:   fmt.Sprintf("%s donation", txn.DonationCategory),
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		reason := gateway.ReasonOf(err)
		metrics.SettlementDuration.WithLabelValues(profile.Name(), string(models.TransactionStatusFailed)).Observe(elapsed)
		logger.WithFields(log.Fields{
			"reason": reason,
			"error":  err.Error(),
		}).Warn("Settlement failed")
		return m.fail(ctx, txn.ID, reason)
	}
	metrics.SettlementDuration.WithLabelValues(profile.Name(), string(models.TransactionStatusCompleted)).Observe(elapsed)

	settled, err := m.ledger.MarkCompleted(context.WithoutCancel(ctx), txn.ID, receipt.Reference)
	if err != nil {
		logger.WithField("error", err.Error()).Error("Failed to record completed settlement")
		return models.Transaction{}, fmt.Errorf("mark %s completed: %w", txn.ID, err)
	}
	metrics.DonationAmount.WithLabelValues(settled.Currency).Observe(float64(settled.Amount))
	logger.WithField("receipt_reference", receipt.Reference).Info("Settlement completed")

	if err := m.notifier.Notify(ctx, settled.ID); err != nil {
		logger.WithField("error", err.Error()).Warn("Donation notification failed")
	}
	return settled, nil
}

func (m *Mediator) fail(ctx context.Context, id string, reason models.FailureReason) (models.Transaction, error) {
	settled, err := m.ledger.MarkFailed(context.WithoutCancel(ctx), id, reason)
	if err != nil {
		log.WithFields(log.Fields{
			"transaction_id": id,
			"reason":         reason,
			"error":          err.Error(),
		}).Error("Failed to record failed settlement")
		return models.Transaction{}, fmt.Errorf("mark %s failed: %w", id, err)
	}
	return settled, nil
}

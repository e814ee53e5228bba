// Package payment composes validation, id issuance and settlement into the
// donation intake pipeline and exposes it over HTTP.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ashendes/petadoption-payments/internal/intake"
	"github.com/ashendes/petadoption-payments/internal/ledger"
	"github.com/ashendes/petadoption-payments/internal/metrics"
	"github.com/ashendes/petadoption-payments/internal/models"
	"github.com/ashendes/petadoption-payments/internal/money"
	"github.com/ashendes/petadoption-payments/internal/patterns"
	"github.com/ashendes/petadoption-payments/internal/txnid"
	log "github.com/sirupsen/logrus"
)

// DefaultReplayWait bounds how long a replayed request waits for the
// original request to settle. It must exceed the gateway timeout.
const DefaultReplayWait = 15 * time.Second

// Issuer assigns transaction ids and gives back reservations whose
// transaction was never recorded
type Issuer interface {
	Issue(ctx context.Context, idempotencyKey string) (txnid.Issued, error)
	Release(ctx context.Context, idempotencyKey, id string) error
}

// Settler settles a pending transaction
type Settler interface {
	Settle(ctx context.Context, txn models.Transaction) (models.Transaction, error)
}

// Result is the outcome of processing one request: an HTTP status and the
// response body to send with it
type Result struct {
	Status int
	Body   interface{}
}

// Config wires a Service
type Config struct {
	Issuer     Issuer
	Ledger     ledger.Ledger
	Settler    Settler
	ReplayWait time.Duration
	Now        func() time.Time
}

// Service processes donation requests
type Service struct {
	issuer     Issuer
	ledger     ledger.Ledger
	settler    Settler
	replayWait time.Duration
	now        func() time.Time
}

// NewService creates a payment service
func NewService(cfg Config) *Service {
	s := &Service{
		issuer:     cfg.Issuer,
		ledger:     cfg.Ledger,
		settler:    cfg.Settler,
		replayWait: cfg.ReplayWait,
		now:        cfg.Now,
	}
	if s.replayWait <= 0 {
		s.replayWait = DefaultReplayWait
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Process runs one request through the pipeline. It never returns an error:
// every failure is expressed as a Result.
func (s *Service) Process(ctx context.Context, raw models.RawPaymentRequest) Result {
	req, err := intake.Validate(raw)
	if err != nil {
		return s.rejected(err)
	}

	logger := log.WithFields(log.Fields{
		"currency":       req.Currency,
		"payment_method": req.PaymentMethod,
		"amount":         req.Amount,
	})

	issued, err := s.issuer.Issue(ctx, req.IdempotencyKey)
	if err != nil {
		return s.fault(logger, "Failed to issue transaction id", err)
	}
	logger = logger.WithField("transaction_id", issued.ID)

	if issued.Replay {
		metrics.IdempotentReplaysTotal.Inc()
		logger.Info("Replaying transaction for repeated idempotency key")
		txn, err := s.awaitSettled(ctx, issued.ID)
		if err != nil {
			return s.fault(logger, "Replayed transaction did not settle", err)
		}
		return s.accepted(txn)
	}

	txn := models.NewTransaction(issued.ID, req, s.now())
	if err := s.ledger.Create(ctx, txn); err != nil {
		return s.createFailed(ctx, logger, req.IdempotencyKey, issued.ID, err)
	}
	logger.Info("Transaction accepted")

	settled, err := s.settler.Settle(ctx, txn)
	if err != nil {
		return s.fault(logger, "Failed to settle transaction", err)
	}
	metrics.DonationsTotal.WithLabelValues(string(settled.Status), string(settled.FailureReason)).Inc()
	return s.accepted(settled)
}

// Reject answers a request whose body did not decode because a field had the
// wrong JSON type, reported as reason. The fields that did decode are
// validated first so the reported reason follows the usual check order.
func (s *Service) Reject(raw models.RawPaymentRequest, reason models.FailureReason) Result {
	if _, err := intake.Validate(raw); err != nil {
		return s.rejected(err)
	}
	return s.rejected(&intake.ValidationError{Reason: reason, Detail: "field has the wrong JSON type"})
}

// createFailed handles a transaction that could not be recorded. When the
// key already belongs to a recorded transaction, whose store entry expired,
// that transaction is replayed. Otherwise the reservation is released so a
// retry with the same key can start over.
func (s *Service) createFailed(ctx context.Context, logger *log.Entry, key, id string, err error) Result {
	defer s.release(ctx, logger, key, id)

	if key == "" || !errors.Is(err, ledger.ErrAlreadyExists) {
		return s.fault(logger, "Failed to record transaction", err)
	}
	existing, getErr := s.ledger.GetByIdempotencyKey(ctx, key)
	if getErr != nil {
		return s.fault(logger, "Failed to record transaction", err)
	}

	metrics.IdempotentReplaysTotal.Inc()
	logger = logger.WithField("original_transaction_id", existing.ID)
	logger.Info("Replaying transaction recorded under an expired idempotency key")
	settled, waitErr := s.awaitSettled(ctx, existing.ID)
	if waitErr != nil {
		return s.fault(logger, "Replayed transaction did not settle", waitErr)
	}
	return s.accepted(settled)
}

func (s *Service) release(ctx context.Context, logger *log.Entry, key, id string) {
	if err := s.issuer.Release(context.WithoutCancel(ctx), key, id); err != nil {
		logger.WithField("error", err.Error()).Warn("Failed to release idempotency key")
	}
}

// awaitSettled polls the ledger until the transaction is terminal. The row
// may not exist yet when the original request is between reserving the id
// and recording the transaction.
func (s *Service) awaitSettled(ctx context.Context, id string) (models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.replayWait)
	defer cancel()

	ticker := time.NewTicker(patterns.ReplayPollInterval)
	defer ticker.Stop()

	for {
		txn, err := s.ledger.Get(ctx, id)
		switch {
		case err == nil && txn.Status.Terminal():
			return txn, nil
		case err != nil && !errors.Is(err, ledger.ErrNotFound):
			return models.Transaction{}, fmt.Errorf("read transaction %s: %w", id, err)
		}

		select {
		case <-ctx.Done():
			return models.Transaction{}, fmt.Errorf("wait for transaction %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Lookup returns a stored transaction for read-back
func (s *Service) Lookup(ctx context.Context, id string) (models.Transaction, error) {
	return s.ledger.Get(ctx, id)
}

func (s *Service) rejected(err error) Result {
	var verr *intake.ValidationError
	if !errors.As(err, &verr) {
		return s.fault(log.NewEntry(log.StandardLogger()), "Validation failed unexpectedly", err)
	}
	metrics.DonationsTotal.WithLabelValues(string(models.TransactionStatusFailed), string(verr.Reason)).Inc()
	log.WithFields(log.Fields{
		"reason": verr.Reason,
		"detail": verr.Detail,
	}).Info("Donation request rejected")
	return Result{
		Status: verr.Reason.HTTPStatus(),
		Body:   ValidationFailure(verr.Reason),
	}
}

func (s *Service) accepted(txn models.Transaction) Result {
	return Result{
		Status: http.StatusOK,
		Body: models.PaymentResponse{
			Success:          true,
			TransactionID:    txn.ID,
			Amount:           txn.Amount,
			Currency:         txn.Currency,
			Status:           txn.Status,
			Message:          settledMessage(txn),
			Timestamp:        s.timestamp(),
			Reason:           txn.FailureReason,
			ReceiptReference: txn.ReceiptReference,
		},
	}
}

func (s *Service) fault(logger *log.Entry, msg string, err error) Result {
	metrics.DonationsTotal.WithLabelValues(string(models.TransactionStatusFailed), string(models.ReasonUnexpectedFault)).Inc()
	logger.WithField("error", err.Error()).Error(msg)
	return Result{
		Status: http.StatusInternalServerError,
		Body:   Fault(s.now()),
	}
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(models.TimestampLayout)
}

// ValidationFailure builds the 400 body for reason
func ValidationFailure(reason models.FailureReason) models.ValidationFailureResponse {
	return models.ValidationFailureResponse{
		Success: false,
		Status:  models.TransactionStatusFailed,
		Message: reason.Message(),
		Reason:  reason,
	}
}

// Fault builds the generic 500 body
func Fault(now time.Time) models.FaultResponse {
	return models.FaultResponse{
		Success:   false,
		Amount:    0,
		Currency:  "USD",
		Status:    models.TransactionStatusFailed,
		Message:   models.ReasonUnexpectedFault.Message(),
		Timestamp: now.UTC().Format(models.TimestampLayout),
	}
}

func settledMessage(txn models.Transaction) string {
	display := money.Display(txn.Amount, txn.Currency)
	if txn.Status == models.TransactionStatusCompleted {
		return fmt.Sprintf("Donation of %s processed successfully", display)
	}
	return fmt.Sprintf("Donation of %s could not be processed: %s", display, txn.FailureReason.Message())
}

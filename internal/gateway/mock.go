package gateway

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ashendes/petadoption-payments/internal/metrics"
	"github.com/ashendes/petadoption-payments/internal/models"
	"github.com/google/uuid"
)

// MockProfileName is the profile name routes use to settle without a provider
const MockProfileName = "mock"

// receiptNamespace seeds the name-based UUIDs used as mock receipts
var receiptNamespace = uuid.MustParse("6f1c1f7e-4a51-4c62-9a4c-0d0b3b8f6a21")

// MockProfile settles every charge successfully with a receipt derived from
// the transaction id, so the same transaction always gets the same receipt.
// Two chaos switches let operators exercise failure paths in development.
type MockProfile struct {
	name      string
	slowDelay time.Duration
	decline   atomic.Bool
	slow      atomic.Bool
}

// NewMockProfile creates a mock profile. slowDelay applies in slow mode.
func NewMockProfile(name string, slowDelay time.Duration) *MockProfile {
	return &MockProfile{name: name, slowDelay: slowDelay}
}

// Name implements Profile
func (m *MockProfile) Name() string {
	return m.name
}

// Charge implements Profile
func (m *MockProfile) Charge(ctx context.Context, charge Charge) (Receipt, error) {
	if m.slow.Load() {
		timer := time.NewTimer(m.slowDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Receipt{}, &Error{Reason: models.ReasonGatewayTimeout, Gateway: m.name, Err: ctx.Err()}
		}
	}
	if m.decline.Load() {
		return Receipt{}, &Error{
			Reason:  models.ReasonGatewayDeclined,
			Gateway: m.name,
			Err:     fmt.Errorf("chaos decline mode"),
		}
	}
	return Receipt{Reference: MockReceipt(charge.TransactionID)}, nil
}

// MockReceipt returns the receipt reference the mock issues for transactionID
func MockReceipt(transactionID string) string {
	return "RCPT-" + uuid.NewSHA1(receiptNamespace, []byte(transactionID)).String()
}

// SetDeclineMode makes every charge fail with a decline
func (m *MockProfile) SetDeclineMode(enabled bool) {
	m.decline.Store(enabled)
	metrics.GatewayChaosEnabled.WithLabelValues(m.name, "decline").Set(boolGauge(enabled))
}

// SetSlowMode delays every charge by the slow delay
func (m *MockProfile) SetSlowMode(enabled bool) {
	m.slow.Store(enabled)
	metrics.GatewayChaosEnabled.WithLabelValues(m.name, "slow").Set(boolGauge(enabled))
}

// DeclineMode reports the decline switch
func (m *MockProfile) DeclineMode() bool {
	return m.decline.Load()
}

// SlowMode reports the slow switch
func (m *MockProfile) SlowMode() bool {
	return m.slow.Load()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

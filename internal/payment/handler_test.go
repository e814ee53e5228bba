package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashendes/petadoption-payments/internal/gateway"
	"github.com/ashendes/petadoption-payments/internal/idempotency"
	"github.com/ashendes/petadoption-payments/internal/ledger"
	"github.com/ashendes/petadoption-payments/internal/models"
	"github.com/ashendes/petadoption-payments/internal/settlement"
	"github.com/ashendes/petadoption-payments/internal/txnid"
	"github.com/gin-gonic/gin"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockProfileFunc adapts a function to gateway.Profile
type MockProfileFunc func(ctx context.Context, charge gateway.Charge) (gateway.Receipt, error)

func (f MockProfileFunc) Name() string { return "card" }

func (f MockProfileFunc) Charge(ctx context.Context, charge gateway.Charge) (gateway.Receipt, error) {
	return f(ctx, charge)
}

// countingStore records how often the idempotency store is touched
type countingStore struct {
	idempotency.Store
	calls atomic.Int32
}

func (s *countingStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	s.calls.Add(1)
	return s.Store.Lookup(ctx, key)
}

func (s *countingStore) Reserve(ctx context.Context, key, id string) (bool, error) {
	s.calls.Add(1)
	return s.Store.Reserve(ctx, key, id)
}

func (s *countingStore) Release(ctx context.Context, key, id string) error {
	s.calls.Add(1)
	return s.Store.Release(ctx, key, id)
}

// failingLedger wraps a ledger and fails Create
type failingLedger struct {
	ledger.Ledger
}

func (failingLedger) Create(ctx context.Context, txn models.Transaction) error {
	return errors.New("disk full")
}

// MockSettlerFunc adapts a function to Settler
type MockSettlerFunc func(ctx context.Context, txn models.Transaction) (models.Transaction, error)

func (f MockSettlerFunc) Settle(ctx context.Context, txn models.Transaction) (models.Transaction, error) {
	return f(ctx, txn)
}

// MockIssuerFunc adapts a function to Issuer
type MockIssuerFunc func(ctx context.Context, key string) (txnid.Issued, error)

func (f MockIssuerFunc) Issue(ctx context.Context, key string) (txnid.Issued, error) {
	return f(ctx, key)
}

func (f MockIssuerFunc) Release(ctx context.Context, key, id string) error {
	return nil
}

// flakyLedger fails the first Create and then behaves normally
type flakyLedger struct {
	ledger.Ledger
	failed atomic.Bool
}

func (l *flakyLedger) Create(ctx context.Context, txn models.Transaction) error {
	if l.failed.CompareAndSwap(false, true) {
		return errors.New("database is locked")
	}
	return l.Ledger.Create(ctx, txn)
}

type testEnv struct {
	router *gin.Engine
	ledger *ledger.Memory
	store  *countingStore
}

type envOption func(*Config)

func newTestEnv(t *testing.T, registry *gateway.Registry, opts ...envOption) *testEnv {
	t.Helper()
	store := &countingStore{Store: idempotency.NewMemory(time.Hour)}
	l := ledger.NewMemory()
	cfg := Config{
		Issuer:     txnid.NewGenerator(store, txnid.WithClock(func() time.Time { return fixedNow })),
		Ledger:     l,
		Settler:    settlement.NewMediator(settlement.Config{Gateways: registry, Ledger: l, Timeout: time.Second}),
		ReplayWait: 2 * time.Second,
		Now:        func() time.Time { return fixedNow },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &testEnv{
		router: NewRouter(NewHandler(NewService(cfg))),
		ledger: l,
		store:  store,
	}
}

func cardRegistry(profile gateway.Profile) *gateway.Registry {
	r := gateway.NewRegistry()
	r.Register(profile)
	r.Route("USD", models.PaymentMethodCard, profile.Name())
	r.Route("JPY", models.PaymentMethodCard, profile.Name())
	return r
}

func approvingProfile(calls *atomic.Int32, delay time.Duration) MockProfileFunc {
	return func(ctx context.Context, c gateway.Charge) (gateway.Receipt, error) {
		if calls != nil {
			calls.Add(1)
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		return gateway.Receipt{Reference: gateway.MockReceipt(c.TransactionID)}, nil
	}
}

func donationBody(fields map[string]any) []byte {
	body := map[string]any{
		"amount":        2500,
		"currency":      "USD",
		"paymentMethod": "card",
		"donorName":     "A. Lee",
		"donorEmail":    "a@example.com",
	}
	for k, v := range fields {
		if v == nil {
			delete(body, k)
			continue
		}
		body[k] = v
	}
	data, _ := json.Marshal(body)
	return data
}

func (e *testEnv) post(t *testing.T, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/process-payment", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return out
}

func TestProcessPaymentSuccess(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, cardRegistry(approvingProfile(nil, 0)))
	w := env.post(t, donationBody(nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(w.Body.String(), `{"success":true,"transactionId":"TXN-1772366400000-`) {
		t.Fatalf("unexpected body layout: %s", w.Body.String())
	}
	resp := decode[models.PaymentResponse](t, w)
	if resp.Status != models.TransactionStatusCompleted {
		t.Fatalf("status = %s, want completed", resp.Status)
	}
	if resp.Message != "Donation of 25.00 USD processed successfully" {
		t.Fatalf("message = %q", resp.Message)
	}
	if resp.Timestamp != "2026-03-01T12:00:00.000Z" {
		t.Fatalf("timestamp = %q", resp.Timestamp)
	}
	if resp.ReceiptReference != gateway.MockReceipt(resp.TransactionID) {
		t.Fatalf("receipt = %q", resp.ReceiptReference)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin = %q, want *", got)
	}
}

func TestProcessPaymentRejectsNonPositiveAmount(t *testing.T) {
	t.Parallel()

	for _, amount := range []any{0, -5, "abc", 12.5, nil} {
		env := newTestEnv(t, cardRegistry(approvingProfile(nil, 0)))
		w := env.post(t, donationBody(map[string]any{"amount": amount, "idempotencyKey": "k-invalid"}))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("amount %v: status = %d, want 400", amount, w.Code)
		}
		resp := decode[models.ValidationFailureResponse](t, w)
		if resp.Success || resp.Status != models.TransactionStatusFailed || resp.Reason != models.ReasonInvalidAmount {
			t.Fatalf("amount %v: body = %+v", amount, resp)
		}
		if env.ledger.Len() != 0 {
			t.Fatalf("amount %v: ledger has %d rows, want 0", amount, env.ledger.Len())
		}
		if calls := env.store.calls.Load(); calls != 0 {
			t.Fatalf("amount %v: idempotency store called %d times, want 0", amount, calls)
		}
	}
}

func TestProcessPaymentValidationReasons(t *testing.T) {
	t.Parallel()

	cases := []struct {
		fields map[string]any
		want   models.FailureReason
	}{
		{map[string]any{"currency": "US"}, models.ReasonInvalidCurrency},
		{map[string]any{"paymentMethod": "cheque"}, models.ReasonUnsupportedMethod},
		{map[string]any{"donorEmail": "not-an-email"}, models.ReasonInvalidDonor},
		{map[string]any{"donorName": ""}, models.ReasonInvalidDonor},
		{map[string]any{"donationCategory": "toys"}, models.ReasonInvalidCategory},
		{map[string]any{"amount": 0, "currency": "US"}, models.ReasonInvalidAmount},
	}
	env := newTestEnv(t, cardRegistry(approvingProfile(nil, 0)))
	for _, tc := range cases {
		w := env.post(t, donationBody(tc.fields))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%v: status = %d, want 400", tc.fields, w.Code)
		}
		if got := decode[models.ValidationFailureResponse](t, w).Reason; got != tc.want {
			t.Fatalf("%v: reason = %s, want %s", tc.fields, got, tc.want)
		}
	}
}

func TestProcessPaymentMalformedBody(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, cardRegistry(approvingProfile(nil, 0)))
	w := env.post(t, []byte(`{"amount":`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	resp := decode[models.ValidationFailureResponse](t, w)
	if resp.Success || resp.Message != invalidBodyMessage {
		t.Fatalf("body = %+v", resp)
	}
}

func TestProcessPaymentNoGatewayConfigured(t *testing.T) {
	t.Parallel()

	// card route exists but the card provider was never registered
	registry := gateway.NewRegistry()
	registry.Route("USD", models.PaymentMethodCard, "card")
	env := newTestEnv(t, registry)

	w := env.post(t, donationBody(nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[models.PaymentResponse](t, w)
	if !resp.Success || resp.Status != models.TransactionStatusFailed || resp.Reason != models.ReasonNoGatewayConfigured {
		t.Fatalf("body = %+v", resp)
	}
	if resp.Amount != 2500 || resp.Currency != "USD" {
		t.Fatalf("amount/currency = %d %s, want 2500 USD", resp.Amount, resp.Currency)
	}

	stored, err := env.ledger.Get(context.Background(), resp.TransactionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.TransactionStatusFailed || stored.Amount != 2500 {
		t.Fatalf("stored = %+v, want failed 2500", stored)
	}
}

func TestProcessPaymentReplaysIdempotencyKey(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	env := newTestEnv(t, cardRegistry(approvingProfile(&calls, 0)))
	body := donationBody(map[string]any{"idempotencyKey": "k1"})

	first := decode[models.PaymentResponse](t, env.post(t, body))
	second := decode[models.PaymentResponse](t, env.post(t, body))

	if first.TransactionID == "" || first.TransactionID != second.TransactionID {
		t.Fatalf("ids = %q / %q, want the same id", first.TransactionID, second.TransactionID)
	}
	if first.Status != second.Status || first.ReceiptReference != second.ReceiptReference {
		t.Fatalf("replay outcome differs: %+v vs %+v", first, second)
	}
	if env.ledger.Len() != 1 {
		t.Fatalf("ledger rows = %d, want 1", env.ledger.Len())
	}
	if calls.Load() != 1 {
		t.Fatalf("gateway calls = %d, want 1", calls.Load())
	}
}

func TestProcessPaymentReplaysFailedOutcome(t *testing.T) {
	t.Parallel()

	registry := gateway.NewRegistry()
	env := newTestEnv(t, registry)
	body := donationBody(map[string]any{"idempotencyKey": "k-failed"})

	first := decode[models.PaymentResponse](t, env.post(t, body))
	second := decode[models.PaymentResponse](t, env.post(t, body))
	if first.Reason != models.ReasonNoGatewayConfigured || second.Reason != first.Reason {
		t.Fatalf("reasons = %s / %s, want NoGatewayConfigured twice", first.Reason, second.Reason)
	}
}

func TestProcessPaymentIdempotencyKeyHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, cardRegistry(approvingProfile(nil, 0)))
	send := func() models.PaymentResponse {
		req := httptest.NewRequest(http.MethodPost, "/process-payment", bytes.NewReader(donationBody(nil)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "header-key")
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return decode[models.PaymentResponse](t, w)
	}
	if a, b := send(), send(); a.TransactionID != b.TransactionID {
		t.Fatalf("ids = %q / %q, want the same id", a.TransactionID, b.TransactionID)
	}
}

func TestProcessPaymentConcurrentSameKey(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	env := newTestEnv(t, cardRegistry(approvingProfile(&calls, 50*time.Millisecond)))
	body := donationBody(map[string]any{"idempotencyKey": "k-concurrent"})

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/process-payment", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)
			var resp models.PaymentResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err == nil && resp.Status == models.TransactionStatusCompleted {
				ids[i] = resp.TransactionID
			}
		}(i)
	}
	wg.Wait()

	for i, id := range ids {
		if id == "" || id != ids[0] {
			t.Fatalf("caller %d got %q, want %q", i, id, ids[0])
		}
	}
	if env.ledger.Len() != 1 {
		t.Fatalf("ledger rows = %d, want 1", env.ledger.Len())
	}
	if calls.Load() != 1 {
		t.Fatalf("gateway calls = %d, want 1", calls.Load())
	}
}

func TestProcessPaymentRoundTripsAmountAndCurrency(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, cardRegistry(approvingProfile(nil, 0)))
	w := env.post(t, donationBody(map[string]any{"amount": 1999, "currency": "jpy"}))
	resp := decode[models.PaymentResponse](t, w)
	if resp.Amount != 1999 || resp.Currency != "JPY" {
		t.Fatalf("amount/currency = %d %s, want 1999 JPY", resp.Amount, resp.Currency)
	}
	if resp.Message != "Donation of 1999 JPY processed successfully" {
		t.Fatalf("message = %q", resp.Message)
	}
}

func TestProcessPaymentGatewayDecline(t *testing.T) {
	t.Parallel()

	profile := MockProfileFunc(func(ctx context.Context, c gateway.Charge) (gateway.Receipt, error) {
		return gateway.Receipt{}, &gateway.Error{Reason: models.ReasonGatewayDeclined, Gateway: "card", Err: errors.New("do_not_honor: internal code 51")}
	})
	env := newTestEnv(t, cardRegistry(profile))
	w := env.post(t, donationBody(nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[models.PaymentResponse](t, w)
	if resp.Status != models.TransactionStatusFailed || resp.Reason != models.ReasonGatewayDeclined {
		t.Fatalf("body = %+v", resp)
	}
	if strings.Contains(w.Body.String(), "do_not_honor") {
		t.Fatalf("gateway detail leaked: %s", w.Body.String())
	}
}

func TestProcessPaymentLedgerFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, cardRegistry(approvingProfile(nil, 0)), func(cfg *Config) {
		cfg.Ledger = failingLedger{Ledger: cfg.Ledger}
	})
	w := env.post(t, donationBody(nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	resp := decode[models.FaultResponse](t, w)
	if resp.Success || resp.Amount != 0 || resp.Currency != "USD" || resp.Status != models.TransactionStatusFailed {
		t.Fatalf("body = %+v", resp)
	}
	if strings.Contains(w.Body.String(), "disk full") {
		t.Fatalf("fault detail leaked: %s", w.Body.String())
	}
}

func TestProcessPaymentRecoversFromPanic(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, cardRegistry(approvingProfile(nil, 0)), func(cfg *Config) {
		cfg.Settler = MockSettlerFunc(func(ctx context.Context, txn models.Transaction) (models.Transaction, error) {
			panic("settler exploded")
		})
	})
	w := env.post(t, donationBody(nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if resp := decode[models.FaultResponse](t, w); resp.Currency != "USD" || resp.Message == "" {
		t.Fatalf("body = %+v", resp)
	}
}

func TestProcessPaymentReplayWaitExpires(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, cardRegistry(approvingProfile(nil, 0)), func(cfg *Config) {
		cfg.Issuer = MockIssuerFunc(func(ctx context.Context, key string) (txnid.Issued, error) {
			return txnid.Issued{ID: "TXN-1-NEVERSETTLED", Replay: true}, nil
		})
		cfg.ReplayWait = 100 * time.Millisecond
	})
	w := env.post(t, donationBody(map[string]any{"idempotencyKey": "k-stuck"}))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestPreflight(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, gateway.NewRegistry())
	req := httptest.NewRequest(http.MethodOptions, "/process-payment", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("body = %q, want empty", w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin = %q, want *", got)
	}
}

func TestGetTransaction(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, cardRegistry(approvingProfile(nil, 0)))
	created := decode[models.PaymentResponse](t, env.post(t, donationBody(nil)))

	req := httptest.NewRequest(http.MethodGet, "/transactions/"+created.TransactionID, nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	txn := decode[models.Transaction](t, w)
	if txn.ID != created.TransactionID || txn.Status != models.TransactionStatusCompleted {
		t.Fatalf("txn = %+v", txn)
	}

	req = httptest.NewRequest(http.MethodGet, "/transactions/TXN-0-MISSING", nil)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestProcessPaymentRetryAfterLedgerFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	env := newTestEnv(t, cardRegistry(approvingProfile(&calls, 0)), func(cfg *Config) {
		cfg.Ledger = &flakyLedger{Ledger: cfg.Ledger}
		cfg.ReplayWait = 300 * time.Millisecond
	})
	body := donationBody(map[string]any{"idempotencyKey": "k-retry"})

	if w := env.post(t, body); w.Code != http.StatusInternalServerError {
		t.Fatalf("first status = %d, want 500", w.Code)
	}
	w := env.post(t, body)
	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if resp := decode[models.PaymentResponse](t, w); resp.Status != models.TransactionStatusCompleted {
		t.Fatalf("retry status = %s, want completed", resp.Status)
	}
	if env.ledger.Len() != 1 || calls.Load() != 1 {
		t.Fatalf("ledger rows = %d, gateway calls = %d, want 1 and 1", env.ledger.Len(), calls.Load())
	}
}

func TestProcessPaymentReplaysAfterKeyExpiry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	env := newTestEnv(t, cardRegistry(approvingProfile(&calls, 0)), func(cfg *Config) {
		cfg.ReplayWait = 300 * time.Millisecond
	})
	body := donationBody(map[string]any{"idempotencyKey": "k-old"})

	first := decode[models.PaymentResponse](t, env.post(t, body))
	if first.Status != models.TransactionStatusCompleted {
		t.Fatalf("first status = %s, want completed", first.Status)
	}
	// the store forgets the key, as it does once the retention window ends
	if err := env.store.Release(context.Background(), "k-old", first.TransactionID); err != nil {
		t.Fatalf("release: %v", err)
	}

	for i := 0; i < 2; i++ {
		w := env.post(t, body)
		if w.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want 200: %s", i, w.Code, w.Body.String())
		}
		resp := decode[models.PaymentResponse](t, w)
		if resp.TransactionID != first.TransactionID || resp.Status != first.Status {
			t.Fatalf("attempt %d: got %s/%s, want %s/%s", i, resp.TransactionID, resp.Status, first.TransactionID, first.Status)
		}
	}
	if env.ledger.Len() != 1 || calls.Load() != 1 {
		t.Fatalf("ledger rows = %d, gateway calls = %d, want 1 and 1", env.ledger.Len(), calls.Load())
	}
}

func TestProcessPaymentMistypedFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		body string
		want models.FailureReason
	}{
		{`{"amount":2500,"currency":123,"paymentMethod":"card","donorName":"A","donorEmail":"a@example.com"}`, models.ReasonInvalidCurrency},
		{`{"amount":2500,"currency":"USD","paymentMethod":["card"],"donorName":"A","donorEmail":"a@example.com"}`, models.ReasonUnsupportedMethod},
		{`{"amount":2500,"currency":"USD","paymentMethod":"card","donorName":"A","donorEmail":false}`, models.ReasonInvalidDonor},
		{`{"amount":2500,"currency":"USD","paymentMethod":"card","donorName":"A","donorEmail":"a@example.com","donationCategory":7}`, models.ReasonInvalidCategory},
		{`{"amount":0,"currency":123,"paymentMethod":"card","donorName":"A","donorEmail":"a@example.com"}`, models.ReasonInvalidAmount},
	}
	env := newTestEnv(t, cardRegistry(approvingProfile(nil, 0)))
	for _, tc := range cases {
		w := env.post(t, []byte(tc.body))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.body, w.Code)
		}
		if got := decode[models.ValidationFailureResponse](t, w).Reason; got != tc.want {
			t.Fatalf("%s: reason = %s, want %s", tc.body, got, tc.want)
		}
	}
	if env.ledger.Len() != 0 {
		t.Fatalf("ledger rows = %d, want 0", env.ledger.Len())
	}
}

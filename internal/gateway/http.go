package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ashendes/petadoption-payments/internal/models"
	"github.com/ashendes/petadoption-payments/internal/patterns"
	"github.com/go-resty/resty/v2"
)

// ProviderConfig holds the out-of-band endpoint and credentials of one provider
type ProviderConfig struct {
	URL    string
	Key    string
	Secret string
}

// Complete reports whether every field needed to call the provider is set
func (c ProviderConfig) Complete() bool {
	return c.URL != "" && c.Key != "" && c.Secret != ""
}

// HTTPOptions tunes the resilience wrappers of an HTTP profile
type HTTPOptions struct {
	Timeout      time.Duration
	Service      string
	Breaker      patterns.BreakerSettings
	BulkheadSize int
	BulkheadWait time.Duration
}

// HTTPProfile charges through a provider's JSON API. Calls go through a
// bulkhead and a circuit breaker; declines are business outcomes and do not
// count against the breaker.
type HTTPProfile struct {
	name     string
	client   *resty.Client
	breaker  *patterns.CircuitBreakerWrapper
	bulkhead *patterns.Bulkhead
}

type chargeRequest struct {
	Reference   string `json:"reference"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
	DonorEmail  string `json:"donorEmail"`
	Description string `json:"description,omitempty"`
}

type chargeResponse struct {
	Status           string `json:"status"`
	ReceiptReference string `json:"receiptReference"`
	DeclineCode      string `json:"declineCode,omitempty"`
}

const (
	providerApproved = "approved"
	providerDeclined = "declined"
)

// NewHTTPProfile creates a profile calling cfg.URL. Zero options fall back to
// the gateway timeout, a bulkhead of 10 with a 2s wait and the default breaker.
func NewHTTPProfile(name string, cfg ProviderConfig, opts HTTPOptions) *HTTPProfile {
	if opts.Timeout <= 0 {
		opts.Timeout = patterns.GatewayTimeout
	}
	if opts.Service == "" {
		opts.Service = "payment-service"
	}
	if opts.Breaker == (patterns.BreakerSettings{}) {
		opts.Breaker = patterns.DefaultBreakerSettings
	}
	if opts.BulkheadSize <= 0 {
		opts.BulkheadSize = 10
	}
	if opts.BulkheadWait <= 0 {
		opts.BulkheadWait = 2 * time.Second
	}

	return &HTTPProfile{
		name: name,
		client: resty.New().
			SetBaseURL(cfg.URL).
			SetTimeout(opts.Timeout).
			SetRetryCount(0). // retries belong to the caller, via idempotency keys
			SetBasicAuth(cfg.Key, cfg.Secret).
			SetHeader("Content-Type", "application/json"),
		breaker:  patterns.NewCircuitBreaker(name, opts.Service, opts.Breaker),
		bulkhead: patterns.NewBulkhead(opts.BulkheadSize, opts.BulkheadWait, name, opts.Service),
	}
}

// Name implements Profile
func (p *HTTPProfile) Name() string {
	return p.name
}

// CircuitState returns the breaker state name
func (p *HTTPProfile) CircuitState() string {
	return p.breaker.GetState()
}

// Charge implements Profile
func (p *HTTPProfile) Charge(ctx context.Context, charge Charge) (Receipt, error) {
	body := chargeRequest{
		Reference:   charge.TransactionID,
		Amount:      charge.Amount,
		Currency:    charge.Currency,
		Method:      string(charge.Method),
		DonorEmail:  charge.DonorEmail,
		Description: charge.Description,
	}

	var outcome chargeResponse
	err := p.bulkhead.Execute(ctx, func() error {
		result, cbErr := p.breaker.Execute(func() (interface{}, error) {
			return p.post(ctx, body)
		})
		if cbErr != nil {
			return cbErr
		}
		outcome = result.(chargeResponse)
		return nil
	})
	if err != nil {
		return Receipt{}, p.classify(err)
	}

	if outcome.Status == providerDeclined {
		return Receipt{}, &Error{
			Reason:  models.ReasonGatewayDeclined,
			Gateway: p.name,
			Err:     fmt.Errorf("declined with code %q", outcome.DeclineCode),
		}
	}
	return Receipt{Reference: outcome.ReceiptReference}, nil
}

// post performs one provider call. Errors returned here count against the
// breaker; a decline is returned as a normal response.
func (p *HTTPProfile) post(ctx context.Context, body chargeRequest) (chargeResponse, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", body.Reference).
		SetBody(body).
		Post("/charges")
	if err != nil {
		return chargeResponse{}, &Error{Reason: models.ReasonGatewayTimeout, Gateway: p.name, Err: err}
	}

	switch code := resp.StatusCode(); {
	case code >= http.StatusInternalServerError:
		return chargeResponse{}, &Error{
			Reason:  models.ReasonGatewayDeclined,
			Gateway: p.name,
			Err:     fmt.Errorf("provider returned status %d: %s", code, resp.String()),
		}
	case code < http.StatusOK || code >= http.StatusMultipleChoices:
		return chargeResponse{Status: providerDeclined, DeclineCode: fmt.Sprintf("http_%d", code)}, nil
	}

	var parsed chargeResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return chargeResponse{}, &Error{
			Reason:  models.ReasonGatewayMalformedResponse,
			Gateway: p.name,
			Err:     fmt.Errorf("parse provider response: %w", err),
		}
	}
	switch {
	case parsed.Status == providerDeclined:
		return parsed, nil
	case parsed.Status == providerApproved && parsed.ReceiptReference != "":
		return parsed, nil
	default:
		return chargeResponse{}, &Error{
			Reason:  models.ReasonGatewayMalformedResponse,
			Gateway: p.name,
			Err:     fmt.Errorf("unexpected provider response: %s", resp.String()),
		}
	}
}

func (p *HTTPProfile) classify(err error) error {
	var gerr *Error
	switch {
	case errors.As(err, &gerr):
		return gerr
	case errors.Is(err, patterns.ErrCircuitOpen), errors.Is(err, patterns.ErrBulkheadFull),
		errors.Is(err, context.DeadlineExceeded):
		return &Error{Reason: models.ReasonGatewayTimeout, Gateway: p.name, Err: err}
	default:
		return &Error{Reason: models.ReasonGatewayMalformedResponse, Gateway: p.name, Err: err}
	}
}

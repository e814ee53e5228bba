package models

import (
	"encoding/json"
	"time"
)

// TransactionStatus is the lifecycle state of a donation transaction
type TransactionStatus string

// TransactionStatus constants
const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Terminal reports whether no further transition can happen from s.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// PaymentMethod is one of the accepted ways to pay
type PaymentMethod string

// PaymentMethod constants
const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank-transfer"
	PaymentMethodMobileWallet PaymentMethod = "mobile-wallet"
)

// DonationCategory tells where the donation goes
type DonationCategory string

// DonationCategory constants
const (
	DonationCategoryGeneral            DonationCategory = "general"
	DonationCategoryPetCare            DonationCategory = "pet-care"
	DonationCategoryFosterSupport      DonationCategory = "foster-support"
	DonationCategoryAdoptionAssistance DonationCategory = "adoption-assistance"
)

// RawPaymentRequest is the request body as received on the wire. Amount is
// kept raw so that a non-numeric amount is reported as an invalid amount
// rather than a malformed body.
type RawPaymentRequest struct {
	Amount           json.RawMessage `json:"amount"`
	Currency         string          `json:"currency"`
	PaymentMethod    string          `json:"paymentMethod"`
	DonorName        string          `json:"donorName"`
	DonorEmail       string          `json:"donorEmail"`
	DonorPhone       string          `json:"donorPhone,omitempty"`
	DonationCategory string          `json:"donationCategory,omitempty"`
	Description      string          `json:"description,omitempty"`
	IdempotencyKey   string          `json:"idempotencyKey,omitempty"`
}

// PaymentRequest is a validated and normalized donation request
type PaymentRequest struct {
	Amount           int64
	Currency         string
	PaymentMethod    PaymentMethod
	DonorName        string
	DonorEmail       string
	DonorPhone       string
	DonationCategory DonationCategory
	Description      string
	IdempotencyKey   string
}

// Transaction represents a donation transaction as recorded in the ledger
type Transaction struct {
	ID               string            `json:"transactionId"`
	Status           TransactionStatus `json:"status"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	PaymentMethod    PaymentMethod     `json:"paymentMethod"`
	DonorEmail       string            `json:"donorEmail"`
	DonationCategory DonationCategory  `json:"donationCategory"`
	IdempotencyKey   string            `json:"idempotencyKey,omitempty"`
	ReceiptReference string            `json:"receiptReference,omitempty"`
	FailureReason    FailureReason     `json:"failureReason,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	SettledAt        *time.Time        `json:"settledAt,omitempty"`
}

// NewTransaction creates a pending transaction for an accepted request
func NewTransaction(id string, req PaymentRequest, createdAt time.Time) Transaction {
	return Transaction{
		ID:               id,
		Status:           TransactionStatusPending,
		Amount:           req.Amount,
		Currency:         req.Currency,
		PaymentMethod:    req.PaymentMethod,
		DonorEmail:       req.DonorEmail,
		DonationCategory: req.DonationCategory,
		IdempotencyKey:   req.IdempotencyKey,
		CreatedAt:        createdAt.UTC(),
	}
}

// TimestampLayout is the wire format of response timestamps (UTC, millisecond precision)
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ValidationFailureResponse is returned with 400 when the request is rejected
type ValidationFailureResponse struct {
	Success bool              `json:"success"`
	Status  TransactionStatus `json:"status"`
	Message string            `json:"message"`
	Reason  FailureReason     `json:"reason,omitempty"`
}

// FaultResponse is returned with 500 on anything unanticipated
type FaultResponse struct {
	Success   bool              `json:"success"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Status    TransactionStatus `json:"status"`
	Message   string            `json:"message"`
	Timestamp string            `json:"timestamp"`
}

// PaymentResponse is returned with 200 once a transaction has been settled,
// whether the settlement succeeded or not
type PaymentResponse struct {
	Success          bool              `json:"success"`
	TransactionID    string            `json:"transactionId"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           TransactionStatus `json:"status"`
	Message          string            `json:"message"`
	Timestamp        string            `json:"timestamp"`
	Reason           FailureReason     `json:"reason,omitempty"`
	ReceiptReference string            `json:"receiptReference,omitempty"`
}

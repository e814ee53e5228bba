package models

import "net/http"

// FailureReason classifies why a request or a settlement did not succeed
type FailureReason string

// Client errors: the request is rejected and no transaction is created
const (
	ReasonInvalidAmount     FailureReason = "InvalidAmount"
	ReasonInvalidCurrency   FailureReason = "InvalidCurrency"
	ReasonUnsupportedMethod FailureReason = "UnsupportedMethod"
	ReasonInvalidDonor      FailureReason = "InvalidDonor"
	ReasonInvalidCategory   FailureReason = "InvalidCategory"
)

// Settlement errors: the transaction exists and ends up failed
const (
	ReasonNoGatewayConfigured      FailureReason = "NoGatewayConfigured"
	ReasonGatewayDeclined          FailureReason = "GatewayDeclined"
	ReasonGatewayTimeout           FailureReason = "GatewayTimeout"
	ReasonGatewayMalformedResponse FailureReason = "GatewayMalformedResponse"
)

// ReasonUnexpectedFault covers everything else
const ReasonUnexpectedFault FailureReason = "UnexpectedFault"

var reasonMessages = map[FailureReason]string{
	ReasonInvalidAmount:            "Amount must be a positive whole number of minor currency units",
	ReasonInvalidCurrency:          "Currency must be a 3-letter ISO 4217 code",
	ReasonUnsupportedMethod:        "Payment method is not supported",
	ReasonInvalidDonor:             "Donor name and a valid donor email are required",
	ReasonInvalidCategory:          "Donation category is not supported",
	ReasonNoGatewayConfigured:      "No payment gateway is available for this currency and method",
	ReasonGatewayDeclined:          "The payment was declined",
	ReasonGatewayTimeout:           "The payment provider did not respond in time",
	ReasonGatewayMalformedResponse: "The payment provider returned an unusable response",
	ReasonUnexpectedFault:          "An unexpected error occurred while processing the payment",
}

// Message returns the caller-facing description of the reason
func (r FailureReason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return reasonMessages[ReasonUnexpectedFault]
}

// IsClientError reports whether the reason rejects the request before a
// transaction exists
func (r FailureReason) IsClientError() bool {
	switch r {
	case ReasonInvalidAmount, ReasonInvalidCurrency, ReasonUnsupportedMethod,
		ReasonInvalidDonor, ReasonInvalidCategory:
		return true
	}
	return false
}

// HTTPStatus maps the reason to the status code of the response carrying it
func (r FailureReason) HTTPStatus() int {
	switch {
	case r.IsClientError():
		return http.StatusBadRequest
	case r == ReasonUnexpectedFault:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// Package intake validates and normalizes incoming donation requests.
//
// Checks run in a fixed order and stop at the first violation, so a request
// is always rejected with the reason of the earliest failing rule. Validation
// never touches the network or storage.
package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashendes/petadoption-payments/internal/models"
	"github.com/go-playground/validator/v10"
)

// ValidationError reports the first violated constraint of a request
type ValidationError struct {
	Reason models.FailureReason
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

var validate = validator.New()

var supportedMethods = map[models.PaymentMethod]bool{
	models.PaymentMethodCard:         true,
	models.PaymentMethodBankTransfer: true,
	models.PaymentMethodMobileWallet: true,
}

var supportedCategories = map[models.DonationCategory]bool{
	models.DonationCategoryGeneral:            true,
	models.DonationCategoryPetCare:            true,
	models.DonationCategoryFosterSupport:      true,
	models.DonationCategoryAdoptionAssistance: true,
}

// fieldReasons maps request fields to the reason reported when they carry a
// value of the wrong JSON type
var fieldReasons = map[string]models.FailureReason{
	"amount":           models.ReasonInvalidAmount,
	"currency":         models.ReasonInvalidCurrency,
	"paymentMethod":    models.ReasonUnsupportedMethod,
	"donorName":        models.ReasonInvalidDonor,
	"donorEmail":       models.ReasonInvalidDonor,
	"donationCategory": models.ReasonInvalidCategory,
}

// FieldReason returns the reason for a mistyped field. Optional free-text
// fields have none.
func FieldReason(field string) (models.FailureReason, bool) {
	reason, ok := fieldReasons[field]
	return reason, ok
}

// Validate checks a raw request and returns its normalized form
func Validate(raw models.RawPaymentRequest) (models.PaymentRequest, error) {
	amount, err := parseAmount(raw.Amount)
	if err != nil {
		return models.PaymentRequest{}, &ValidationError{Reason: models.ReasonInvalidAmount, Detail: err.Error()}
	}

	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if !isCurrencyCode(currency) {
		return models.PaymentRequest{}, &ValidationError{
			Reason: models.ReasonInvalidCurrency,
			Detail: fmt.Sprintf("currency %q is not a 3-letter code", raw.Currency),
		}
	}

	method := models.PaymentMethod(strings.ToLower(strings.TrimSpace(raw.PaymentMethod)))
	if !supportedMethods[method] {
		return models.PaymentRequest{}, &ValidationError{
			Reason: models.ReasonUnsupportedMethod,
			Detail: fmt.Sprintf("payment method %q is not supported", raw.PaymentMethod),
		}
	}

	name := strings.TrimSpace(raw.DonorName)
	email := strings.TrimSpace(raw.DonorEmail)
	if name == "" {
		return models.PaymentRequest{}, &ValidationError{Reason: models.ReasonInvalidDonor, Detail: "donor name is required"}
	}
	if err := validate.Var(email, "required,email"); err != nil {
		return models.PaymentRequest{}, &ValidationError{
			Reason: models.ReasonInvalidDonor,
			Detail: fmt.Sprintf("donor email %q is not a valid address", raw.DonorEmail),
		}
	}

	category := models.DonationCategory(strings.ToLower(strings.TrimSpace(raw.DonationCategory)))
	if category == "" {
		category = models.DonationCategoryGeneral
	}
	if !supportedCategories[category] {
		return models.PaymentRequest{}, &ValidationError{
			Reason: models.ReasonInvalidCategory,
			Detail: fmt.Sprintf("donation category %q is not supported", raw.DonationCategory),
		}
	}

	return models.PaymentRequest{
		Amount:           amount,
		Currency:         currency,
		PaymentMethod:    method,
		DonorName:        name,
		DonorEmail:       email,
		DonorPhone:       strings.TrimSpace(raw.DonorPhone),
		DonationCategory: category,
		Description:      strings.TrimSpace(raw.Description),
		IdempotencyKey:   strings.TrimSpace(raw.IdempotencyKey),
	}, nil
}

// parseAmount accepts only a JSON number holding a positive integer
func parseAmount(raw json.RawMessage) (int64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, fmt.Errorf("amount is required")
	}
	if trimmed[0] == '"' {
		return 0, fmt.Errorf("amount must be a number")
	}

	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err != nil {
		return 0, fmt.Errorf("amount must be a number")
	}
	amount, err := strconv.ParseInt(num.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %s is not a whole number of minor units", num)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be greater than 0")
	}
	return amount, nil
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

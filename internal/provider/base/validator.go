package base

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"paygate/internal/provider"
)

// MaxDescriptionRunes is the provider's description length ceiling.
const MaxDescriptionRunes = 100

// AmountValidator validates payment amounts
type AmountValidator struct {
	minAmount int64
	maxAmount int64
	currency  string
}

// NewAmountValidator creates an amount validator with limits. A zero max
// disables the upper bound.
func NewAmountValidator(currency string, minAmount, maxAmount int64) *AmountValidator {
	return &AmountValidator{
		minAmount: minAmount,
		maxAmount: maxAmount,
		currency:  currency,
	}
}

// ValidateAmount validates payment amount
func (v *AmountValidator) ValidateAmount(amount int64) error {
	if amount <= 0 {
		return &provider.ProviderError{
			Code:    provider.ErrInvalidAmount,
			Message: "amount must be greater than zero",
		}
	}

	if amount < v.minAmount {
		return &provider.ProviderError{
			Code:    provider.ErrInvalidAmount,
			Message: fmt.Sprintf("amount must be at least %d %s", v.minAmount, v.currency),
		}
	}

	if v.maxAmount > 0 && amount > v.maxAmount {
		return &provider.ProviderError{
			Code:    provider.ErrInvalidAmount,
			Message: fmt.Sprintf("amount must not exceed %d %s", v.maxAmount, v.currency),
		}
	}

	return nil
}

// RequestValidator provides common request validation
type RequestValidator struct {
	amountValidator *AmountValidator
}

// NewRequestValidator creates a new request validator
func NewRequestValidator(currency string, minAmount, maxAmount int64) *RequestValidator {
	return &RequestValidator{
		amountValidator: NewAmountValidator(currency, minAmount, maxAmount),
	}
}

// ValidateCreateOrderReq validates a payment creation request
func (v *RequestValidator) ValidateCreateOrderReq(req *provider.CreateOrderReq) error {
	if err := v.amountValidator.ValidateAmount(req.Amount); err != nil {
		return err
	}

	if strings.TrimSpace(req.Payer) == "" {
		return &provider.ProviderError{
			Code:    provider.ErrInvalidPayer,
			Message: "payer is required",
		}
	}

	for _, it := range req.Items {
		if it.Quantity <= 0 || it.Price < 0 {
			return &provider.ProviderError{
				Code:    provider.ErrInvalidAmount,
				Message: fmt.Sprintf("item %s has invalid price or quantity", it.ID),
			}
		}
	}

	return validateDescription(req.Description)
}

// ValidateRefundReq validates a refund request
func (v *RequestValidator) ValidateRefundReq(req *provider.RefundReq) error {
	// The payment minimum does not apply to refunds.
	if req.Amount <= 0 || (v.amountValidator.maxAmount > 0 && req.Amount > v.amountValidator.maxAmount) {
		return &provider.ProviderError{
			Code:    provider.ErrInvalidAmount,
			Message: fmt.Sprintf("refund amount %d %s out of range", req.Amount, v.amountValidator.currency),
		}
	}

	if strings.TrimSpace(req.ProviderTransID) == "" {
		return &provider.ProviderError{
			Code:    "invalid_provider_trans_id",
			Message: "provider transaction id is required",
		}
	}

	return validateDescription(req.Description)
}

func validateDescription(desc string) error {
	if strings.TrimSpace(desc) == "" {
		return &provider.ProviderError{
			Code:    provider.ErrInvalidDescription,
			Message: "description is required",
		}
	}
	if utf8.RuneCountInString(desc) > MaxDescriptionRunes {
		return &provider.ProviderError{
			Code:    provider.ErrInvalidDescription,
			Message: fmt.Sprintf("description must not exceed %d characters", MaxDescriptionRunes),
		}
	}
	return nil
}

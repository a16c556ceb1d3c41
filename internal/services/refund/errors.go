package refund

import "fmt"

// Validation reason codes
const (
	ReasonOrderNotFound      = "ORDER_NOT_FOUND"
	ReasonStatusNotEligible  = "STATUS_NOT_ELIGIBLE"
	ReasonNotPaid            = "NOT_PAID"
	ReasonInvalidAmount      = "INVALID_AMOUNT"
	ReasonExceedsRefundable  = "EXCEEDS_REFUNDABLE"
	ReasonNothingToRefund    = "NOTHING_TO_REFUND"
	ReasonInvalidDescription = "INVALID_DESCRIPTION"
	ReasonRefundNotFound     = "REFUND_NOT_FOUND"
)

// ValidationError is returned before anything is written.
type ValidationError struct {
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("refund validation [%s]: %s", e.Code, e.Reason)
}

// ServiceError represents a refund service error
type ServiceError struct {
	Op       string
	Message  string
	Err      error
	RefundID string
}

func (e ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("refund service %s: %s (%v)", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("refund service %s: %s", e.Op, e.Message)
}

func (e ServiceError) Unwrap() error {
	return e.Err
}

package payment

import "fmt"

// Validation reason codes
const (
	ReasonOrderNotFound     = "ORDER_NOT_FOUND"
	ReasonAlreadyPaid       = "ALREADY_PAID"
	ReasonTerminalStatus    = "TERMINAL_STATUS"
	ReasonInvalidAmount     = "INVALID_AMOUNT"
	ReasonNoPaymentSession  = "NO_PAYMENT_SESSION"
	ReasonSessionInProgress = "SESSION_IN_PROGRESS"
)

// ValidationError rejects a request before anything is written or sent.
type ValidationError struct {
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payment validation [%s]: %s", e.Code, e.Reason)
}

// ServiceError represents a payment service error
type ServiceError struct {
	Op      string
	Message string
	Err     error
	// MerchantTransID is set when the id was persisted before the failure.
	MerchantTransID string
}

func (e ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment service %s: %s (%v)", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("payment service %s: %s", e.Op, e.Message)
}

func (e ServiceError) Unwrap() error {
	return e.Err
}

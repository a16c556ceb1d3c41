package provider

import (
	"context"
	"errors"
	"net"
)

// Outcome is the three-state reading of a provider return code.
type Outcome int

const (
	OutcomeProcessing Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "processing"
	}
}

// Common error types
type ProviderError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	ProviderErr   string `json:"provider_error,omitempty"`
	ReturnCode    int    `json:"return_code,omitempty"`
	SubReturnCode int    `json:"sub_return_code,omitempty"`
}

func (e *ProviderError) Error() string {
	if e.ProviderErr != "" {
		return e.Message + ": " + e.ProviderErr
	}
	return e.Message
}

// Error codes
const (
	ErrRejected           = "provider_rejected"
	ErrInvalidAmount      = "invalid_amount"
	ErrInvalidDescription = "invalid_description"
	ErrInvalidPayer       = "invalid_payer"
	ErrMalformedResponse  = "malformed_response"
	ErrProviderDown       = "provider_down"
)

// IsTimeout reports whether err means the call's outcome was never observed.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

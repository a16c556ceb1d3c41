package refund

import (
	"context"
	"errors"

	"paygate/internal/domain/refund"
	"paygate/internal/provider"
)

// outcomeStatus is the single mapping from a provider outcome to a refund
// status. Both the request path and reconciliation go through it.
var outcomeStatus = map[provider.Outcome]refund.Status{
	provider.OutcomeSucceeded:  refund.StatusSuccess,
	provider.OutcomeFailed:     refund.StatusFailed,
	provider.OutcomeProcessing: refund.StatusProcessing,
}

// observation is what one provider exchange told us about a refund.
type observation struct {
	status  refund.Status
	code    *int
	message string
}

func observeResponse(resp *provider.RefundResp) observation {
	code := resp.ReturnCode
	status, ok := outcomeStatus[resp.Outcome]
	if !ok {
		status = refund.StatusProcessing
	}
	return observation{status: status, code: &code, message: resp.Message()}
}

// observeCallError maps a failed refund call. A timeout or an abandoned call
// means the provider may have acted, so the refund is left for reconciliation.
// Anything else is final.
func observeCallError(err error) observation {
	if provider.IsTimeout(err) || errors.Is(err, context.Canceled) {
		return observation{status: refund.StatusProcessing, message: "outcome unknown: " + err.Error()}
	}
	return observation{status: refund.StatusFailed, message: err.Error()}
}

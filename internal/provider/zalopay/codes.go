package zalopay

import "paygate/internal/provider"

// returnCodeOutcomes pins the v2 return_code taxonomy. The same codes are used
// by /v2/create, /v2/query, /v2/refund and /v2/query_refund.
var returnCodeOutcomes = map[int]provider.Outcome{
	1: provider.OutcomeSucceeded,
	2: provider.OutcomeFailed,
	3: provider.OutcomeProcessing,
}

// OutcomeFor maps a return_code to an outcome. Codes missing from the table are
// read as processing: the result is unknown, so reconciliation decides.
func OutcomeFor(returnCode int) provider.Outcome {
	if o, ok := returnCodeOutcomes[returnCode]; ok {
		return o
	}
	return provider.OutcomeProcessing
}

// Callback acknowledgement codes understood by the provider's retry logic.
const (
	AckAccepted      = 1
	AckDuplicate     = 2
	AckInternalError = 0
	AckInvalidMAC    = -1
)

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"paygate/internal/provider"
	paymentsvc "paygate/internal/services/payment"
	refundsvc "paygate/internal/services/refund"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type errorBody struct {
	Error         string `json:"error"`
	Code          string `json:"code,omitempty"`
	ReturnCode    int    `json:"return_code,omitempty"`
	SubReturnCode int    `json:"sub_return_code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		refundVal  *refundsvc.ValidationError
		paymentVal *paymentsvc.ValidationError
		perr       *provider.ProviderError
	)
	switch {
	case errors.As(err, &refundVal):
		status := http.StatusUnprocessableEntity
		if refundVal.Code == refundsvc.ReasonOrderNotFound || refundVal.Code == refundsvc.ReasonRefundNotFound {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorBody{Error: refundVal.Reason, Code: refundVal.Code})
	case errors.As(err, &paymentVal):
		status := http.StatusUnprocessableEntity
		switch paymentVal.Code {
		case paymentsvc.ReasonOrderNotFound:
			status = http.StatusNotFound
		case paymentsvc.ReasonAlreadyPaid, paymentsvc.ReasonSessionInProgress:
			status = http.StatusConflict
		}
		writeJSON(w, status, errorBody{Error: paymentVal.Reason, Code: paymentVal.Code})
	case errors.As(err, &perr):
		switch perr.Code {
		case provider.ErrRejected:
			writeJSON(w, http.StatusBadGateway, errorBody{
				Error:         perr.Error(),
				Code:          perr.Code,
				ReturnCode:    perr.ReturnCode,
				SubReturnCode: perr.SubReturnCode,
			})
		case provider.ErrProviderDown, provider.ErrMalformedResponse:
			log.Error().Err(err).Str("path", r.URL.Path).Msg("provider unavailable")
			writeJSON(w, http.StatusBadGateway, errorBody{Error: "provider unavailable", Code: perr.Code})
		default:
			writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: perr.Error(), Code: perr.Code})
		}
	case provider.IsTimeout(err):
		log.Error().Err(err).Str("path", r.URL.Path).Msg("provider timeout")
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: "provider timeout"})
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func orderIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	return id, err == nil && id > 0
}

package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"paygate/internal/provider"
	"paygate/internal/provider/zalopay"
	"paygate/internal/services/webhook"

	"github.com/rs/zerolog/log"
)

const maxCallbackBytes = 64 << 10

// CallbackVerifier is the part of webhook.Verifier the handler uses.
type CallbackVerifier interface {
	VerifyAndBind(ctx context.Context, cb provider.Callback) (webhook.Result, error)
}

type callbackAck struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
}

// ZaloPayCallback handles POST /webhooks/zalopay. The provider reads the
// acknowledgement from the body, so every answer is HTTP 200.
func ZaloPayCallback(v CallbackVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
		if err != nil {
			writeJSON(w, http.StatusOK, callbackAck{ReturnCode: zalopay.AckInternalError, ReturnMessage: "read failed"})
			return
		}

		var cb provider.Callback
		if err := json.Unmarshal(body, &cb); err != nil {
			log.Warn().Err(err).Int("bytes", len(body)).Msg("callback body is not JSON")
			writeJSON(w, http.StatusOK, callbackAck{ReturnCode: zalopay.AckInvalidMAC, ReturnMessage: "invalid body"})
			return
		}

		res, err := v.VerifyAndBind(r.Context(), cb)
		if err != nil {
			log.Error().Err(err).Str("app_trans_id", res.MerchantTransID).Msg("callback not applied, provider will retry")
		}
		writeJSON(w, http.StatusOK, callbackAck{ReturnCode: res.ReturnCode, ReturnMessage: res.ReturnMessage})
	}
}

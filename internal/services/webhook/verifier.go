// Package webhook authenticates provider payment callbacks and binds the
// settlement they announce.
package webhook

import (
	"context"
	"errors"

	"paygate/internal/domain/order"
	"paygate/internal/metrics"
	"paygate/internal/provider"
	"paygate/internal/provider/zalopay"
	"paygate/internal/services/payment"

	"github.com/rs/zerolog/log"
)

// Authenticator checks and decodes a raw callback.
type Authenticator interface {
	Verify(cb provider.Callback) bool
	Decode(data string) (*provider.CallbackData, error)
}

// Binder records a settlement. payment.Service implements it.
type Binder interface {
	BindSettlement(ctx context.Context, merchantTransID, providerTransID string) (payment.BindResult, error)
}

// Result is the acknowledgement to send back plus what was learned.
type Result struct {
	Verified        bool
	ReturnCode      int
	ReturnMessage   string
	MerchantTransID string
	ProviderTransID string
}

type Verifier struct {
	auth    Authenticator
	binder  Binder
	metrics *metrics.Metrics
}

func NewVerifier(auth Authenticator, binder Binder, m *metrics.Metrics) *Verifier {
	return &Verifier{auth: auth, binder: binder, metrics: m}
}

// VerifyAndBind never parses data whose mac does not match. The returned error
// is set only for failures the provider should retry.
func (v *Verifier) VerifyAndBind(ctx context.Context, cb provider.Callback) (Result, error) {
	if !v.auth.Verify(cb) {
		log.Warn().Int("type", cb.Type).Int("data_len", len(cb.Data)).Msg("callback mac mismatch")
		v.metrics.Webhook("invalid_mac")
		return Result{ReturnCode: zalopay.AckInvalidMAC, ReturnMessage: "mac not equal"}, nil
	}

	data, err := v.auth.Decode(cb.Data)
	if err != nil {
		log.Error().Err(err).Msg("verified callback could not be decoded")
		v.metrics.Webhook("malformed")
		return Result{Verified: true, ReturnCode: zalopay.AckInternalError, ReturnMessage: "malformed data"}, err
	}

	res := Result{
		Verified:        true,
		MerchantTransID: data.MerchantTransID,
		ProviderTransID: data.ProviderTransID,
	}
	bound, err := v.binder.BindSettlement(ctx, data.MerchantTransID, data.ProviderTransID)
	switch {
	case err == nil:
		res.ReturnCode = zalopay.AckAccepted
		res.ReturnMessage = "success"
		v.metrics.Webhook(bound.String())
		log.Info().
			Str("app_trans_id", data.MerchantTransID).
			Str("zp_trans_id", data.ProviderTransID).
			Int64("amount", data.Amount).
			Str("bind", bound.String()).
			Msg("callback accepted")
		return res, nil
	case errors.Is(err, order.ErrBindingConflict):
		res.ReturnCode = zalopay.AckDuplicate
		res.ReturnMessage = "already processed"
		v.metrics.Webhook("conflict")
		return res, nil
	default:
		log.Error().Err(err).
			Str("app_trans_id", data.MerchantTransID).
			Str("zp_trans_id", data.ProviderTransID).
			Msg("callback bind failed")
		res.ReturnCode = zalopay.AckInternalError
		res.ReturnMessage = "internal error"
		v.metrics.Webhook("error")
		return res, err
	}
}

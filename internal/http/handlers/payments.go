package handlers

import (
	"context"
	"net/http"

	middlewarex "paygate/internal/http/middleware"
	paymentsvc "paygate/internal/services/payment"

	"github.com/rs/zerolog/log"
)

// PaymentService is the part of payment.Service the handlers use.
type PaymentService interface {
	CreatePaymentSession(ctx context.Context, orderID int64) (*paymentsvc.Session, error)
	SyncPayment(ctx context.Context, orderID int64) (*paymentsvc.SyncResult, error)
}

type sessionResponse struct {
	OrderID         int64  `json:"order_id"`
	MerchantTransID string `json:"app_trans_id"`
	OrderURL        string `json:"order_url"`
	ZPTransToken    string `json:"zp_trans_token,omitempty"`
	OrderToken      string `json:"order_token,omitempty"`
	QRCode          string `json:"qr_code,omitempty"`
}

// CreatePaymentSession handles POST /api/v1/orders/{orderID}/payment-session
func CreatePaymentSession(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, ok := orderIDParam(r)
		if !ok {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}
		session, err := svc.CreatePaymentSession(r.Context(), orderID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		log.Info().
			Str("operator", middlewarex.Operator(r.Context())).
			Int64("order_id", orderID).
			Str("app_trans_id", session.MerchantTransID).
			Msg("payment session created")
		writeJSON(w, http.StatusCreated, sessionResponse{
			OrderID:         orderID,
			MerchantTransID: session.MerchantTransID,
			OrderURL:        session.RedirectURL,
			ZPTransToken:    session.ZPTransToken,
			OrderToken:      session.OrderToken,
			QRCode:          session.QRCode,
		})
	}
}

type syncResponse struct {
	OrderID         int64  `json:"order_id"`
	MerchantTransID string `json:"app_trans_id"`
	ProviderTransID string `json:"zp_trans_id,omitempty"`
	Outcome         string `json:"outcome"`
	ReturnCode      int    `json:"return_code,omitempty"`
	Message         string `json:"message,omitempty"`
	Bind            string `json:"bind"`
	OrderStatus     string `json:"order_status"`
}

// SyncPayment handles POST /api/v1/orders/{orderID}/payment-sync
func SyncPayment(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, ok := orderIDParam(r)
		if !ok {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}
		res, err := svc.SyncPayment(r.Context(), orderID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, syncResponse{
			OrderID:         orderID,
			MerchantTransID: res.MerchantTransID,
			ProviderTransID: res.ProviderTransID,
			Outcome:         res.Outcome.String(),
			ReturnCode:      res.ReturnCode,
			Message:         res.Message,
			Bind:            res.Bind.String(),
			OrderStatus:     string(res.OrderStatus),
		})
	}
}

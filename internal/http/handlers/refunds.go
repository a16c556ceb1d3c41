package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"paygate/internal/domain/refund"
	middlewarex "paygate/internal/http/middleware"
	refundsvc "paygate/internal/services/refund"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// RefundService is the part of refund.Service the handlers use.
type RefundService interface {
	CreateRefund(ctx context.Context, orderID int64, amount decimal.Decimal, description string) (*refundsvc.Result, error)
	RefundRemaining(ctx context.Context, orderID int64, description string) (*refundsvc.Result, error)
	Reconcile(ctx context.Context, refundID string) (*refund.Transaction, error)
	History(ctx context.Context, orderID int64) ([]*refund.Transaction, refund.Totals, error)
}

type refundRequest struct {
	// Amount may be a JSON number or string. Omit it with remaining=true.
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
	Remaining   bool             `json:"remaining"`
}

type refundView struct {
	RefundID      string     `json:"m_refund_id"`
	OrderID       int64      `json:"order_id"`
	Amount        string     `json:"amount"`
	Description   string     `json:"description"`
	Status        string     `json:"status"`
	ReturnCode    *int       `json:"return_code,omitempty"`
	ReturnMessage string     `json:"return_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

func viewRefund(t *refund.Transaction) refundView {
	return refundView{
		RefundID:      t.RefundID,
		OrderID:       t.OrderID,
		Amount:        t.Amount.String(),
		Description:   t.Description,
		Status:        string(t.Status),
		ReturnCode:    t.ReturnCode,
		ReturnMessage: t.ReturnMessage,
		CreatedAt:     t.CreatedAt,
		ProcessedAt:   t.ProcessedAt,
	}
}

// CreateRefund handles POST /api/v1/orders/{orderID}/refunds
func CreateRefund(svc RefundService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, ok := orderIDParam(r)
		if !ok {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}
		var req refundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		var (
			res *refundsvc.Result
			err error
		)
		switch {
		case req.Remaining:
			res, err = svc.RefundRemaining(r.Context(), orderID, req.Description)
		case req.Amount != nil:
			res, err = svc.CreateRefund(r.Context(), orderID, *req.Amount, req.Description)
		default:
			http.Error(w, "amount or remaining is required", http.StatusBadRequest)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}

		log.Info().
			Str("operator", middlewarex.Operator(r.Context())).
			Int64("order_id", orderID).
			Str("m_refund_id", res.Refund.RefundID).
			Str("amount", res.Refund.Amount.String()).
			Str("status", string(res.Refund.Status)).
			Msg("refund requested")

		status := http.StatusCreated
		if res.Refund.Status == refund.StatusProcessing {
			status = http.StatusAccepted
		}
		writeJSON(w, status, map[string]any{
			"refund":       viewRefund(res.Refund),
			"order_status": res.OrderStatus,
			"refundable":   res.Refundable.String(),
		})
	}
}

// ListRefunds handles GET /api/v1/orders/{orderID}/refunds
func ListRefunds(svc RefundService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, ok := orderIDParam(r)
		if !ok {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}
		txs, totals, err := svc.History(r.Context(), orderID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		views := make([]refundView, 0, len(txs))
		for _, t := range txs {
			views = append(views, viewRefund(t))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data":      views,
			"refunded":  totals.Succeeded.String(),
			"in_flight": totals.InFlight.String(),
		})
	}
}

// QueryRefund handles POST /api/v1/refunds/{refundID}/query
func QueryRefund(svc RefundService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refundID := chi.URLParam(r, "refundID")
		txn, err := svc.Reconcile(r.Context(), refundID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"refund": viewRefund(txn)})
	}
}

package refund

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"paygate/internal/domain/event"
	"paygate/internal/domain/order"
	"paygate/internal/domain/refund"
	"paygate/internal/idgen"
	"paygate/internal/metrics"
	"paygate/internal/provider"
	"paygate/internal/provider/base"
	eventsvc "paygate/internal/services/event"
	"paygate/internal/store/repositories"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Sources recorded on refund outcome metrics.
const (
	SourceRequest   = "request"
	SourceReconcile = "reconcile"
)

// Result is the refund as stored after the provider exchange, plus what the
// order can still refund.
type Result struct {
	Refund      *refund.Transaction
	OrderStatus order.Status
	Refundable  decimal.Decimal
}

// Service orchestrates refunds: eligibility under the order lock, a PENDING
// row written ahead of the provider call, and one finalize path shared with
// reconciliation.
type Service struct {
	store       repositories.Store
	gateway     provider.Gateway
	ids         idgen.Generator
	events      eventsvc.Publisher
	metrics     *metrics.Metrics
	callTimeout time.Duration
	now         func() time.Time
}

func NewService(store repositories.Store, gateway provider.Gateway, ids idgen.Generator, events eventsvc.Publisher, m *metrics.Metrics, callTimeout time.Duration) *Service {
	if events == nil {
		events = eventsvc.NopPublisher{}
	}
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &Service{
		store:       store,
		gateway:     gateway,
		ids:         ids,
		events:      events,
		metrics:     m,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// CreateRefund refunds amount from the order. Amounts already refunded and
// amounts still in flight both count against the order total.
func (s *Service) CreateRefund(ctx context.Context, orderID int64, amount decimal.Decimal, description string) (*Result, error) {
	return s.refund(ctx, orderID, description, func(o *order.Order, totals refund.Totals) (decimal.Decimal, error) {
		if !amount.IsPositive() {
			return decimal.Zero, &ValidationError{Code: ReasonInvalidAmount, Reason: fmt.Sprintf("amount %s must be positive", amount)}
		}
		if _, err := order.WholeVND(amount); err != nil {
			return decimal.Zero, &ValidationError{Code: ReasonInvalidAmount, Reason: err.Error()}
		}
		available := o.TotalAmount.Sub(totals.Committed())
		if amount.GreaterThan(available) {
			return decimal.Zero, &ValidationError{
				Code: ReasonExceedsRefundable,
				Reason: fmt.Sprintf("amount %s exceeds refundable %s (refunded %s, in flight %s)",
					amount, available, totals.Succeeded, totals.InFlight),
			}
		}
		return amount, nil
	})
}

// RefundRemaining refunds everything not yet refunded or reserved.
func (s *Service) RefundRemaining(ctx context.Context, orderID int64, description string) (*Result, error) {
	return s.refund(ctx, orderID, description, func(o *order.Order, totals refund.Totals) (decimal.Decimal, error) {
		remaining := o.TotalAmount.Sub(totals.Committed())
		if !remaining.IsPositive() {
			return decimal.Zero, &ValidationError{Code: ReasonNothingToRefund, Reason: fmt.Sprintf("order %d has nothing left to refund", orderID)}
		}
		if _, err := order.WholeVND(remaining); err != nil {
			return decimal.Zero, &ValidationError{Code: ReasonInvalidAmount, Reason: err.Error()}
		}
		return remaining, nil
	})
}

type amountPicker func(o *order.Order, totals refund.Totals) (decimal.Decimal, error)

func (s *Service) refund(ctx context.Context, orderID int64, description string, pick amountPicker) (*Result, error) {
	txn, zpTransID, err := s.reserve(ctx, orderID, description, pick)
	if err != nil {
		return nil, err
	}

	amount, _ := order.WholeVND(txn.Amount)
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	resp, callErr := s.gateway.Refund(callCtx, provider.RefundReq{
		RefundID:        txn.RefundID,
		ProviderTransID: zpTransID,
		Amount:          amount,
		Description:     txn.Description,
	})
	cancel()

	var obs observation
	if callErr != nil {
		log.Error().Err(callErr).
			Int64("order_id", orderID).
			Str("m_refund_id", txn.RefundID).
			Bool("timeout", provider.IsTimeout(callErr)).
			Msg("refund call failed")
		obs = observeCallError(callErr)
	} else {
		obs = observeResponse(resp)
	}

	// The provider has been asked; record what it said even if the caller left.
	final, err := s.finalize(context.WithoutCancel(ctx), txn.RefundID, obs, SourceRequest)
	if err != nil {
		log.Error().Err(err).Str("m_refund_id", txn.RefundID).Msg("refund outcome not recorded, left for reconciliation")
		return nil, &ServiceError{Op: "create_refund", Message: "refund outcome not recorded", Err: err, RefundID: txn.RefundID}
	}
	return s.result(context.WithoutCancel(ctx), final), nil
}

// reserve validates under the order lock and commits a PENDING refund.
func (s *Service) reserve(ctx context.Context, orderID int64, description string, pick amountPicker) (*refund.Transaction, string, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := tx.OrderRepository().LockByID(ctx, orderID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, "", &ValidationError{Code: ReasonOrderNotFound, Reason: fmt.Sprintf("order %d not found", orderID)}
	}
	if err != nil {
		return nil, "", fmt.Errorf("lock order %d: %w", orderID, err)
	}
	if !o.Status.AllowsRefund() {
		return nil, "", &ValidationError{Code: ReasonStatusNotEligible, Reason: fmt.Sprintf("order %d is %s", orderID, o.Status)}
	}
	if !order.ValidProviderTransID(o.ProviderTransID) {
		return nil, "", &ValidationError{Code: ReasonNotPaid, Reason: fmt.Sprintf("order %d has no provider transaction", orderID)}
	}

	description = strings.TrimSpace(description)
	if description == "" {
		description = fmt.Sprintf("Refund for order #%s", o.Code)
	}
	if utf8.RuneCountInString(description) > base.MaxDescriptionRunes {
		return nil, "", &ValidationError{Code: ReasonInvalidDescription, Reason: fmt.Sprintf("description longer than %d characters", base.MaxDescriptionRunes)}
	}

	existing, err := tx.RefundRepository().FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, "", fmt.Errorf("load refunds for order %d: %w", orderID, err)
	}
	totals := refund.Sum(existing)
	amount, err := pick(o, totals)
	if err != nil {
		return nil, "", err
	}

	now := s.now()
	txn, err := refund.New(orderID, s.ids.RefundID(now), amount, description, now)
	if err != nil {
		return nil, "", &ValidationError{Code: ReasonInvalidAmount, Reason: err.Error()}
	}
	if err := tx.RefundRepository().Save(ctx, txn); err != nil {
		return nil, "", fmt.Errorf("insert refund: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("commit: %w", err)
	}

	log.Info().
		Int64("order_id", orderID).
		Str("m_refund_id", txn.RefundID).
		Str("amount", amount.String()).
		Str("refunded", totals.Succeeded.String()).
		Str("in_flight", totals.InFlight.String()).
		Msg("refund reserved")
	return txn, o.ProviderTransID, nil
}

// Reconcile asks the provider for the refund's status and applies it. Terminal
// refunds are still queried so a disagreement shows up in the logs, but they
// never change.
func (s *Service) Reconcile(ctx context.Context, refundID string) (*refund.Transaction, error) {
	current, err := s.store.Refunds().FindByRefundID(ctx, refundID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, &ValidationError{Code: ReasonRefundNotFound, Reason: fmt.Sprintf("refund %s not found", refundID)}
	}
	if err != nil {
		return nil, fmt.Errorf("load refund %s: %w", refundID, err)
	}

	resp, err := s.gateway.QueryRefund(ctx, refundID)
	if err != nil {
		return current, &ServiceError{Op: "reconcile", Message: "provider query failed", Err: err, RefundID: refundID}
	}
	return s.finalize(ctx, refundID, observeResponse(resp), SourceReconcile)
}

// History lists the order's refunds, newest first.
func (s *Service) History(ctx context.Context, orderID int64) ([]*refund.Transaction, refund.Totals, error) {
	if _, err := s.store.Orders().FindByID(ctx, orderID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, refund.Totals{}, &ValidationError{Code: ReasonOrderNotFound, Reason: fmt.Sprintf("order %d not found", orderID)}
		}
		return nil, refund.Totals{}, err
	}
	txs, err := s.store.Refunds().FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, refund.Totals{}, fmt.Errorf("load refunds for order %d: %w", orderID, err)
	}
	return txs, refund.Sum(txs), nil
}

// finalize applies an observation under the order lock. It is a no-op on a
// terminal refund. A SUCCESS walks the order to REFUNDED in the same
// transaction.
func (s *Service) finalize(ctx context.Context, refundID string, obs observation, source string) (*refund.Transaction, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// order_id never changes, so an unlocked read is enough to find the row to lock.
	peek, err := tx.RefundRepository().FindByRefundID(ctx, refundID)
	if err != nil {
		return nil, fmt.Errorf("find refund %s: %w", refundID, err)
	}
	o, err := tx.OrderRepository().LockByID(ctx, peek.OrderID)
	if err != nil {
		return nil, fmt.Errorf("lock order %d: %w", peek.OrderID, err)
	}
	txn, err := tx.RefundRepository().FindByRefundID(ctx, refundID)
	if err != nil {
		return nil, fmt.Errorf("find refund %s: %w", refundID, err)
	}

	now := s.now()
	if !txn.Apply(obs.status, obs.code, obs.message, now) {
		if obs.status != txn.Status {
			log.Warn().
				Str("m_refund_id", refundID).
				Str("stored", string(txn.Status)).
				Str("observed", string(obs.status)).
				Str("message", obs.message).
				Msg("provider disagrees with terminal refund, keeping stored status")
		}
		return txn, nil
	}
	if err := tx.RefundRepository().Save(ctx, txn); err != nil {
		return nil, fmt.Errorf("save refund %s: %w", refundID, err)
	}

	if txn.Status == refund.StatusSuccess {
		if err := o.MarkRefunded(now); err != nil {
			log.Warn().Err(err).
				Int64("order_id", o.ID).
				Str("m_refund_id", refundID).
				Msg("refund succeeded but order status left unchanged")
		} else if err := tx.OrderRepository().Save(ctx, o); err != nil {
			return nil, fmt.Errorf("save order %d: %w", o.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.metrics.RefundOutcome(source, string(txn.Status))
	log.Info().
		Int64("order_id", o.ID).
		Str("m_refund_id", refundID).
		Str("status", string(txn.Status)).
		Str("order_status", string(o.Status)).
		Str("source", source).
		Msg("refund updated")

	if txn.Status.IsTerminal() {
		s.publish(ctx, txn)
	}
	return txn, nil
}

func (s *Service) publish(ctx context.Context, txn *refund.Transaction) {
	t := event.TypeRefundFailed
	if txn.Status == refund.StatusSuccess {
		t = event.TypeRefundSucceeded
	}
	evt := event.New(t, txn.OrderID, txn.UpdatedAt)
	evt.RefundID = txn.RefundID
	evt.Amount = txn.Amount.String()
	evt.Status = string(txn.Status)
	evt.Message = txn.ReturnMessage
	eventsvc.PublishQuietly(ctx, s.events, evt)
}

// result adds the order's current state; lookups that fail only leave it out.
func (s *Service) result(ctx context.Context, txn *refund.Transaction) *Result {
	res := &Result{Refund: txn}
	o, err := s.store.Orders().FindByID(ctx, txn.OrderID)
	if err != nil {
		return res
	}
	txs, err := s.store.Refunds().FindByOrderID(ctx, txn.OrderID)
	if err != nil {
		return res
	}
	res.OrderStatus = o.Status
	res.Refundable = o.TotalAmount.Sub(refund.Sum(txs).Committed())
	return res
}

package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"paygate/internal/domain/event"
	"paygate/internal/domain/order"
	"paygate/internal/idgen"
	"paygate/internal/provider"
	eventsvc "paygate/internal/services/event"
	"paygate/internal/store/repositories"

	"github.com/rs/zerolog/log"
)

// Session is what the caller needs to send the payer to the provider.
type Session struct {
	RedirectURL     string
	MerchantTransID string
	ZPTransToken    string
	OrderToken      string
	QRCode          string
}

// BindResult tells a settlement bind apart from a replay of one.
type BindResult int

const (
	BindApplied BindResult = iota + 1
	BindReplayed
)

func (r BindResult) String() string {
	switch r {
	case BindApplied:
		return "applied"
	case BindReplayed:
		return "replayed"
	default:
		return "none"
	}
}

// SyncResult reports what a provider status query found.
type SyncResult struct {
	MerchantTransID string
	ProviderTransID string
	Outcome         provider.Outcome
	ReturnCode      int
	Message         string
	Bind            BindResult
	OrderStatus     order.Status
}

// Service handles payment business logic
type Service struct {
	store       repositories.Store
	gateway     provider.Gateway
	ids         idgen.Generator
	events      eventsvc.Publisher
	callTimeout time.Duration
	now         func() time.Time
}

// NewService creates a new payment service
func NewService(store repositories.Store, gateway provider.Gateway, ids idgen.Generator, events eventsvc.Publisher, callTimeout time.Duration) *Service {
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
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// CreatePaymentSession opens a provider order for an unpaid order. The new
// merchant transaction id is committed before the provider is called, so a
// callback or status query can always find the order it belongs to. An
// earlier session is only replaced once the provider reports it failed; a
// paid one is bound instead and an unresolved one blocks the request.
func (s *Service) CreatePaymentSession(ctx context.Context, orderID int64) (*Session, error) {
	previous, err := s.resolvePreviousSession(ctx, orderID)
	if err != nil {
		return nil, err
	}
	req, err := s.openSession(ctx, orderID, previous)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	resp, err := s.gateway.CreateOrder(callCtx, *req)
	if err != nil {
		var perr *provider.ProviderError
		if errors.As(err, &perr) && perr.Code != provider.ErrProviderDown && perr.Code != provider.ErrMalformedResponse {
			return nil, perr
		}
		log.Error().Err(err).
			Int64("order_id", orderID).
			Str("app_trans_id", req.MerchantTransID).
			Bool("timeout", provider.IsTimeout(err)).
			Msg("create payment session call failed")
		return nil, &ServiceError{
			Op:              "create_session",
			Message:         "provider call failed",
			Err:             err,
			MerchantTransID: req.MerchantTransID,
		}
	}

	if resp.Outcome != provider.OutcomeSucceeded {
		log.Warn().
			Int64("order_id", orderID).
			Str("app_trans_id", req.MerchantTransID).
			Int("return_code", resp.ReturnCode).
			Int("sub_return_code", resp.SubReturnCode).
			Msg("payment session rejected")
		return nil, &provider.ProviderError{
			Code:          provider.ErrRejected,
			Message:       "payment session rejected",
			ProviderErr:   resp.Message(),
			ReturnCode:    resp.ReturnCode,
			SubReturnCode: resp.SubReturnCode,
		}
	}

	return &Session{
		RedirectURL:     resp.OrderURL,
		MerchantTransID: req.MerchantTransID,
		ZPTransToken:    resp.ZPTransToken,
		OrderToken:      resp.OrderToken,
		QRCode:          resp.QRCode,
	}, nil
}

// resolvePreviousSession returns the merchant transaction id the new session
// may replace, or "" when the order never had one.
func (s *Service) resolvePreviousSession(ctx context.Context, orderID int64) (string, error) {
	o, err := s.store.Orders().FindByID(ctx, orderID)
	if errors.Is(err, repositories.ErrNotFound) {
		return "", &ValidationError{Code: ReasonOrderNotFound, Reason: fmt.Sprintf("order %d not found", orderID)}
	}
	if err != nil {
		return "", fmt.Errorf("load order %d: %w", orderID, err)
	}
	if o.ProviderTransID != "" {
		return "", &ValidationError{Code: ReasonAlreadyPaid, Reason: fmt.Sprintf("order %d is already paid", orderID)}
	}
	if o.MerchantTransID == "" {
		return "", nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	resp, err := s.gateway.QueryOrder(callCtx, o.MerchantTransID)
	if err != nil {
		return "", &ServiceError{
			Op:              "create_session",
			Message:         "previous session status unknown",
			Err:             err,
			MerchantTransID: o.MerchantTransID,
		}
	}

	switch resp.Outcome {
	case provider.OutcomeSucceeded:
		if _, err := s.BindSettlement(ctx, o.MerchantTransID, resp.ProviderTransID); err != nil {
			return "", err
		}
		return "", &ValidationError{
			Code:   ReasonAlreadyPaid,
			Reason: fmt.Sprintf("order %d was paid through session %s", orderID, o.MerchantTransID),
		}
	case provider.OutcomeFailed:
		return o.MerchantTransID, nil
	default:
		return "", &ValidationError{
			Code:   ReasonSessionInProgress,
			Reason: fmt.Sprintf("order %d has an unresolved payment session %s", orderID, o.MerchantTransID),
		}
	}
}

// openSession validates the order under its row lock and commits a fresh
// merchant transaction id in place of previous.
func (s *Service) openSession(ctx context.Context, orderID int64, previous string) (*provider.CreateOrderReq, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := tx.OrderRepository().LockByID(ctx, orderID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, &ValidationError{Code: ReasonOrderNotFound, Reason: fmt.Sprintf("order %d not found", orderID)}
	}
	if err != nil {
		return nil, fmt.Errorf("lock order %d: %w", orderID, err)
	}
	if o.ProviderTransID != "" {
		return nil, &ValidationError{Code: ReasonAlreadyPaid, Reason: fmt.Sprintf("order %d is already paid", orderID)}
	}
	if o.Status.IsTerminal() {
		return nil, &ValidationError{Code: ReasonTerminalStatus, Reason: fmt.Sprintf("order %d is %s", orderID, o.Status)}
	}
	if o.MerchantTransID != previous {
		return nil, &ValidationError{
			Code:   ReasonSessionInProgress,
			Reason: fmt.Sprintf("order %d payment session changed to %s", orderID, o.MerchantTransID),
		}
	}

	amount, err := order.WholeVND(o.TotalAmount)
	if err != nil || amount <= 0 {
		return nil, &ValidationError{Code: ReasonInvalidAmount, Reason: fmt.Sprintf("order %d total %s", orderID, o.TotalAmount)}
	}
	items := make([]provider.Item, 0, len(o.Items))
	for _, it := range o.Items {
		price, err := order.WholeVND(it.UnitPrice)
		if err != nil {
			return nil, &ValidationError{Code: ReasonInvalidAmount, Reason: fmt.Sprintf("item %d price: %v", it.ProductID, err)}
		}
		items = append(items, provider.Item{
			ID:       strconv.FormatInt(it.ProductID, 10),
			Name:     it.Name,
			Price:    price,
			Quantity: it.Quantity,
		})
	}

	now := s.now()
	o.MerchantTransID = s.ids.MerchantTransID(now)
	o.UpdatedAt = now
	if err := tx.OrderRepository().Save(ctx, o); err != nil {
		return nil, fmt.Errorf("save order %d: %w", orderID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	log.Info().
		Int64("order_id", orderID).
		Str("app_trans_id", o.MerchantTransID).
		Str("replaced_app_trans_id", previous).
		Int64("amount", amount).
		Msg("payment session opened")

	return &provider.CreateOrderReq{
		MerchantTransID: o.MerchantTransID,
		Payer:           o.Payer,
		Amount:          amount,
		Items:           items,
		Description:     fmt.Sprintf("Payment for order #%s", o.Code),
	}, nil
}

// BindSettlement records the provider transaction id against the order that
// owns merchantTransID. It is the only writer of ProviderTransID and is shared
// by the webhook and status sync paths.
func (s *Service) BindSettlement(ctx context.Context, merchantTransID, providerTransID string) (BindResult, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := tx.OrderRepository().LockByMerchantTransID(ctx, merchantTransID)
	if err != nil {
		return 0, fmt.Errorf("lock order for %s: %w", merchantTransID, err)
	}

	now := s.now()
	changed, err := o.BindProviderTransaction(providerTransID, now)
	if err != nil {
		if errors.Is(err, order.ErrBindingConflict) {
			log.Warn().
				Int64("order_id", o.ID).
				Str("app_trans_id", merchantTransID).
				Str("bound_zp_trans_id", o.ProviderTransID).
				Str("zp_trans_id", providerTransID).
				Msg("conflicting settlement ignored")
		}
		return 0, err
	}
	if !changed {
		return BindReplayed, nil
	}

	if err := tx.OrderRepository().Save(ctx, o); err != nil {
		return 0, fmt.Errorf("save order %d: %w", o.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	log.Info().
		Int64("order_id", o.ID).
		Str("app_trans_id", merchantTransID).
		Str("zp_trans_id", providerTransID).
		Str("status", string(o.Status)).
		Msg("settlement bound")

	evt := event.New(event.TypePaymentBound, o.ID, now)
	evt.MerchantTransID = merchantTransID
	evt.ProviderTransID = providerTransID
	evt.Amount = o.TotalAmount.String()
	evt.Status = string(o.Status)
	eventsvc.PublishQuietly(context.WithoutCancel(ctx), s.events, evt)

	return BindApplied, nil
}

// SyncPayment asks the provider about the order's current session and binds
// the settlement when the provider reports it paid. Other outcomes change
// nothing and are only reported.
func (s *Service) SyncPayment(ctx context.Context, orderID int64) (*SyncResult, error) {
	o, err := s.store.Orders().FindByID(ctx, orderID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, &ValidationError{Code: ReasonOrderNotFound, Reason: fmt.Sprintf("order %d not found", orderID)}
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	if o.MerchantTransID == "" {
		return nil, &ValidationError{Code: ReasonNoPaymentSession, Reason: fmt.Sprintf("order %d has no payment session", orderID)}
	}
	if o.ProviderTransID != "" {
		return &SyncResult{
			MerchantTransID: o.MerchantTransID,
			ProviderTransID: o.ProviderTransID,
			Outcome:         provider.OutcomeSucceeded,
			Bind:            BindReplayed,
			OrderStatus:     o.Status,
		}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	resp, err := s.gateway.QueryOrder(callCtx, o.MerchantTransID)
	if err != nil {
		return nil, &ServiceError{Op: "sync_payment", Message: "provider query failed", Err: err, MerchantTransID: o.MerchantTransID}
	}

	res := &SyncResult{
		MerchantTransID: o.MerchantTransID,
		Outcome:         resp.Outcome,
		ReturnCode:      resp.ReturnCode,
		Message:         resp.Message(),
		OrderStatus:     o.Status,
	}
	if resp.Outcome != provider.OutcomeSucceeded {
		return res, nil
	}

	res.ProviderTransID = resp.ProviderTransID
	res.Bind, err = s.BindSettlement(ctx, o.MerchantTransID, resp.ProviderTransID)
	if err != nil {
		return nil, err
	}
	if refreshed, err := s.store.Orders().FindByID(ctx, orderID); err == nil {
		res.OrderStatus = refreshed.Status
	}
	return res, nil
}

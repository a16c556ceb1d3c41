// Package providertest offers a testify-backed provider.Gateway for service tests.
package providertest

import (
	"context"

	"paygate/internal/provider"
	"paygate/internal/provider/zalopay"

	"github.com/stretchr/testify/mock"
)

// Gateway records calls and returns whatever the test programmed with On.
type Gateway struct {
	mock.Mock
}

var _ provider.Gateway = (*Gateway)(nil)

func (g *Gateway) CreateOrder(ctx context.Context, req provider.CreateOrderReq) (*provider.CreateOrderResp, error) {
	args := g.Called(ctx, req)
	resp, _ := args.Get(0).(*provider.CreateOrderResp)
	return resp, args.Error(1)
}

func (g *Gateway) QueryOrder(ctx context.Context, merchantTransID string) (*provider.QueryOrderResp, error) {
	args := g.Called(ctx, merchantTransID)
	resp, _ := args.Get(0).(*provider.QueryOrderResp)
	return resp, args.Error(1)
}

func (g *Gateway) Refund(ctx context.Context, req provider.RefundReq) (*provider.RefundResp, error) {
	args := g.Called(ctx, req)
	resp, _ := args.Get(0).(*provider.RefundResp)
	return resp, args.Error(1)
}

func (g *Gateway) QueryRefund(ctx context.Context, refundID string) (*provider.RefundResp, error) {
	args := g.Called(ctx, refundID)
	resp, _ := args.Get(0).(*provider.RefundResp)
	return resp, args.Error(1)
}

// Result builds a provider result for returnCode using the real code table.
func Result(returnCode int, message string) provider.Result {
	return provider.Result{
		ReturnCode:    returnCode,
		ReturnMessage: message,
		Outcome:       zalopay.OutcomeFor(returnCode),
	}
}

func RefundResp(returnCode int, message string) *provider.RefundResp {
	return &provider.RefundResp{Result: Result(returnCode, message)}
}

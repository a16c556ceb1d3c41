package provider

import (
	"context"
	"time"
)

// Gateway is the outbound half of a payment provider: every call is signed
// with the outbound key and bounded by the client's timeout.
type Gateway interface {
	CreateOrder(ctx context.Context, req CreateOrderReq) (*CreateOrderResp, error)
	QueryOrder(ctx context.Context, merchantTransID string) (*QueryOrderResp, error)
	Refund(ctx context.Context, req RefundReq) (*RefundResp, error)
	QueryRefund(ctx context.Context, refundID string) (*RefundResp, error)
}

// Item is one line of the provider's item list. Price is in whole VND.
type Item struct {
	ID       string `json:"itemid"`
	Name     string `json:"itemname"`
	Price    int64  `json:"itemprice"`
	Quantity int    `json:"itemquantity"`
}

// Create payment
type CreateOrderReq struct {
	MerchantTransID string
	Payer           string
	Amount          int64
	Items           []Item
	Description     string
	BankCode        string
}

type CreateOrderResp struct {
	Result
	OrderURL     string
	ZPTransToken string
	OrderToken   string
	QRCode       string
}

// Query payment
type QueryOrderResp struct {
	Result
	IsProcessing    bool
	Amount          int64
	ProviderTransID string
	ServerTime      time.Time
}

// Refund and refund query
type RefundReq struct {
	RefundID        string
	ProviderTransID string
	Amount          int64
	Description     string
}

type RefundResp struct {
	Result
	ProviderRefundID string
}

// Result carries the provider's return codes and the outcome they map to.
type Result struct {
	ReturnCode       int
	ReturnMessage    string
	SubReturnCode    int
	SubReturnMessage string
	Outcome          Outcome
}

// Message joins the main and sub messages for storage and logs.
func (r Result) Message() string {
	switch {
	case r.SubReturnMessage == "" || r.SubReturnMessage == r.ReturnMessage:
		return r.ReturnMessage
	case r.ReturnMessage == "":
		return r.SubReturnMessage
	default:
		return r.ReturnMessage + ": " + r.SubReturnMessage
	}
}

// Callback is the body the provider posts to the webhook. Data is kept as the
// exact string received; the mac is computed over it.
type Callback struct {
	Data string `json:"data"`
	MAC  string `json:"mac"`
	Type int    `json:"type"`
}

// CallbackData is the decoded content of Callback.Data.
type CallbackData struct {
	AppID           int64
	MerchantTransID string
	ProviderTransID string
	Amount          int64
	Payer           string
	ServerTime      time.Time
	Channel         int
}

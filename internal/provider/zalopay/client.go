package zalopay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"paygate/internal/crypto"
	"paygate/internal/provider"
	"paygate/internal/provider/base"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const (
	pathCreate      = "/v2/create"
	pathQuery       = "/v2/query"
	pathRefund      = "/v2/refund"
	pathQueryRefund = "/v2/query_refund"
)

// Config holds the merchant settings for the v2 API.
type Config struct {
	AppID       int64
	Key1        string
	BaseURL     string
	CallbackURL string
	RedirectURL string
	Timeout     time.Duration
	// QueryRetries bounds extra attempts for the read-only query endpoints.
	QueryRetries uint64
	MinAmount    int64
	MaxAmount    int64
}

// Client implements provider.Gateway against the ZaloPay v2 API.
type Client struct {
	cfg        Config
	appID      string
	httpClient *base.HTTPClient
	validator  *base.RequestValidator
	now        func() time.Time
}

var _ provider.Gateway = (*Client)(nil)

// New creates a ZaloPay client. Every request is signed with cfg.Key1.
func New(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		appID:      strconv.FormatInt(cfg.AppID, 10),
		httpClient: base.NewHTTPClient("zalopay", cfg.BaseURL, cfg.Timeout),
		validator:  base.NewRequestValidator("VND", cfg.MinAmount, cfg.MaxAmount),
		now:        time.Now,
	}
}

// SetObserver forwards call accounting to the underlying HTTP client.
func (c *Client) SetObserver(o base.Observer) {
	c.httpClient.SetObserver(o)
}

type resultBody struct {
	ReturnCode       int    `json:"return_code"`
	ReturnMessage    string `json:"return_message"`
	SubReturnCode    int    `json:"sub_return_code"`
	SubReturnMessage string `json:"sub_return_message"`
}

func (b resultBody) result() provider.Result {
	return provider.Result{
		ReturnCode:       b.ReturnCode,
		ReturnMessage:    b.ReturnMessage,
		SubReturnCode:    b.SubReturnCode,
		SubReturnMessage: b.SubReturnMessage,
		Outcome:          OutcomeFor(b.ReturnCode),
	}
}

type createRequest struct {
	AppID       int64  `json:"app_id"`
	AppUser     string `json:"app_user"`
	AppTransID  string `json:"app_trans_id"`
	AppTime     int64  `json:"app_time"`
	Amount      int64  `json:"amount"`
	Item        string `json:"item"`
	EmbedData   string `json:"embed_data"`
	Description string `json:"description"`
	BankCode    string `json:"bank_code"`
	CallbackURL string `json:"callback_url,omitempty"`
	MAC         string `json:"mac"`
}

// CreateOrder opens a payment session.
func (c *Client) CreateOrder(ctx context.Context, req provider.CreateOrderReq) (*provider.CreateOrderResp, error) {
	if err := c.validator.ValidateCreateOrderReq(&req); err != nil {
		return nil, err
	}

	item, err := EncodeItems(req.Items)
	if err != nil {
		return nil, err
	}
	embed, err := c.embedData()
	if err != nil {
		return nil, err
	}

	body := createRequest{
		AppID:       c.cfg.AppID,
		AppUser:     req.Payer,
		AppTransID:  req.MerchantTransID,
		AppTime:     c.now().UnixMilli(),
		Amount:      req.Amount,
		Item:        item,
		EmbedData:   embed,
		Description: req.Description,
		BankCode:    req.BankCode,
		CallbackURL: c.cfg.CallbackURL,
	}
	// The signed strings are the exact strings sent.
	body.MAC = crypto.Sign(c.cfg.Key1, crypto.Join(
		c.appID,
		body.AppTransID,
		body.AppUser,
		strconv.FormatInt(body.Amount, 10),
		strconv.FormatInt(body.AppTime, 10),
		body.EmbedData,
		body.Item,
	))

	var out struct {
		resultBody
		OrderURL     string `json:"order_url"`
		ZPTransToken string `json:"zp_trans_token"`
		OrderToken   string `json:"order_token"`
		QRCode       string `json:"qr_code"`
	}
	if err := c.post(ctx, pathCreate, body, &out); err != nil {
		return nil, err
	}

	c.logOperation("create_order", out.resultBody, map[string]interface{}{
		"app_trans_id": req.MerchantTransID,
		"amount":       req.Amount,
	})

	return &provider.CreateOrderResp{
		Result:       out.result(),
		OrderURL:     out.OrderURL,
		ZPTransToken: out.ZPTransToken,
		OrderToken:   out.OrderToken,
		QRCode:       out.QRCode,
	}, nil
}

type queryRequest struct {
	AppID      int64  `json:"app_id"`
	AppTransID string `json:"app_trans_id"`
	MAC        string `json:"mac"`
}

// QueryOrder asks for the payment status of a merchant transaction.
func (c *Client) QueryOrder(ctx context.Context, merchantTransID string) (*provider.QueryOrderResp, error) {
	body := queryRequest{
		AppID:      c.cfg.AppID,
		AppTransID: merchantTransID,
		// v2 query signs app_id|app_trans_id|key1.
		MAC: crypto.Sign(c.cfg.Key1, crypto.Join(c.appID, merchantTransID, c.cfg.Key1)),
	}

	var out struct {
		resultBody
		IsProcessing bool  `json:"is_processing"`
		Amount       int64 `json:"amount"`
		ZPTransID    int64 `json:"zp_trans_id"`
		ServerTime   int64 `json:"server_time"`
	}
	if err := c.retrying(ctx, func() error { return c.post(ctx, pathQuery, body, &out) }); err != nil {
		return nil, err
	}

	c.logOperation("query_order", out.resultBody, map[string]interface{}{
		"app_trans_id":  merchantTransID,
		"is_processing": out.IsProcessing,
	})

	resp := &provider.QueryOrderResp{
		Result:       out.result(),
		IsProcessing: out.IsProcessing,
		Amount:       out.Amount,
	}
	if out.ZPTransID > 0 {
		resp.ProviderTransID = strconv.FormatInt(out.ZPTransID, 10)
	}
	if out.ServerTime > 0 {
		resp.ServerTime = time.UnixMilli(out.ServerTime)
	}
	return resp, nil
}

type refundRequest struct {
	AppID       int64  `json:"app_id"`
	MRefundID   string `json:"m_refund_id"`
	ZPTransID   string `json:"zp_trans_id"`
	Amount      int64  `json:"amount"`
	Timestamp   int64  `json:"timestamp"`
	Description string `json:"description"`
	MAC         string `json:"mac"`
}

// Refund submits a refund. It is never retried here: a second submission is
// only safe through QueryRefund.
func (c *Client) Refund(ctx context.Context, req provider.RefundReq) (*provider.RefundResp, error) {
	if err := c.validator.ValidateRefundReq(&req); err != nil {
		return nil, err
	}

	body := refundRequest{
		AppID:       c.cfg.AppID,
		MRefundID:   req.RefundID,
		ZPTransID:   req.ProviderTransID,
		Amount:      req.Amount,
		Timestamp:   c.now().UnixMilli(),
		Description: req.Description,
	}
	body.MAC = crypto.Sign(c.cfg.Key1, crypto.Join(
		c.appID,
		body.ZPTransID,
		strconv.FormatInt(body.Amount, 10),
		body.Description,
		strconv.FormatInt(body.Timestamp, 10),
	))

	var out struct {
		resultBody
		RefundID int64 `json:"refund_id"`
	}
	if err := c.post(ctx, pathRefund, body, &out); err != nil {
		return nil, err
	}

	c.logOperation("refund", out.resultBody, map[string]interface{}{
		"m_refund_id": req.RefundID,
		"amount":      req.Amount,
	})

	resp := &provider.RefundResp{Result: out.result()}
	if out.RefundID > 0 {
		resp.ProviderRefundID = strconv.FormatInt(out.RefundID, 10)
	}
	return resp, nil
}

type queryRefundRequest struct {
	AppID     int64  `json:"app_id"`
	MRefundID string `json:"m_refund_id"`
	Timestamp int64  `json:"timestamp"`
	MAC       string `json:"mac"`
}

// QueryRefund asks for the status of a previously submitted refund.
func (c *Client) QueryRefund(ctx context.Context, refundID string) (*provider.RefundResp, error) {
	var out resultBody
	err := c.retrying(ctx, func() error {
		// Each attempt carries a fresh timestamp and mac.
		body := queryRefundRequest{
			AppID:     c.cfg.AppID,
			MRefundID: refundID,
			Timestamp: c.now().UnixMilli(),
		}
		body.MAC = crypto.Sign(c.cfg.Key1, crypto.Join(c.appID, body.MRefundID, strconv.FormatInt(body.Timestamp, 10)))
		return c.post(ctx, pathQueryRefund, body, &out)
	})
	if err != nil {
		return nil, err
	}

	c.logOperation("query_refund", out, map[string]interface{}{
		"m_refund_id": refundID,
	})
	return &provider.RefundResp{Result: out.result()}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	resp, err := c.httpClient.PostJSON(ctx, path, body)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return &provider.ProviderError{
			Code:        provider.ErrProviderDown,
			Message:     fmt.Sprintf("%s returned HTTP %d", path, resp.StatusCode),
			ProviderErr: truncate(resp.String(), 256),
		}
	}
	if err := resp.Decode(out); err != nil {
		return &provider.ProviderError{
			Code:        provider.ErrMalformedResponse,
			Message:     fmt.Sprintf("malformed %s response", path),
			ProviderErr: err.Error(),
		}
	}
	return nil
}

// retrying re-runs a read-only call on transport and 5xx failures.
func (c *Client) retrying(ctx context.Context, op func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.QueryRetries),
		ctx,
	)
	return backoff.Retry(func() error {
		err := op()
		var pe *provider.ProviderError
		if errors.As(err, &pe) && pe.Code == provider.ErrMalformedResponse {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (c *Client) embedData() (string, error) {
	embed := map[string]string{}
	if c.cfg.RedirectURL != "" {
		embed["redirecturl"] = c.cfg.RedirectURL
	}
	b, err := json.Marshal(embed)
	if err != nil {
		return "", fmt.Errorf("encode embed_data: %w", err)
	}
	return string(b), nil
}

// EncodeItems renders the compact item list the provider signs.
func EncodeItems(items []provider.Item) (string, error) {
	if items == nil {
		items = []provider.Item{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode items: %w", err)
	}
	return string(b), nil
}

func (c *Client) logOperation(op string, r resultBody, details map[string]interface{}) {
	ev := log.Info()
	if OutcomeFor(r.ReturnCode) != provider.OutcomeSucceeded {
		ev = log.Warn()
	}
	ev.Str("provider", "zalopay").
		Str("operation", op).
		Int("return_code", r.ReturnCode).
		Int("sub_return_code", r.SubReturnCode).
		Str("return_message", r.ReturnMessage).
		Fields(details).
		Msg("provider operation")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

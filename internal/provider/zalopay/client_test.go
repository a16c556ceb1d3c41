package zalopay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"paygate/internal/crypto"
	"paygate/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey1 = "PcY4iZIKFCIdgZvA6ueMcMHHUbRLYjPL"
	testKey2 = "kLtgPl8HHhfvMuDHPwKfgfsY4Ydm9eIz"
)

func decodeBody(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	var raw map[string]interface{}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	require.NoError(t, dec.Decode(&raw))
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func newTestClient(url string) *Client {
	return New(Config{
		AppID:       2553,
		Key1:        testKey1,
		BaseURL:     url,
		CallbackURL: "https://merchant.example/webhooks/zalopay",
		RedirectURL: "https://merchant.example/orders",
		Timeout:     2 * time.Second,
		MinAmount:   1000,
	})
}

func TestCreateOrderSignsExactFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathCreate, r.URL.Path)
		b := decodeBody(t, r)

		want := crypto.Sign(testKey1, crypto.Join(b["app_id"], b["app_trans_id"], b["app_user"], b["amount"], b["app_time"], b["embed_data"], b["item"]))
		assert.Equal(t, want, b["mac"])
		assert.Equal(t, `[{"itemid":"11","itemname":"Latte","itemprice":45000,"itemquantity":2}]`, b["item"])
		assert.Equal(t, `{"redirecturl":"https://merchant.example/orders"}`, b["embed_data"])
		assert.Equal(t, "https://merchant.example/webhooks/zalopay", b["callback_url"])

		_, _ = w.Write([]byte(`{"return_code":1,"return_message":"Giao dịch thành công","sub_return_code":1,"order_url":"https://sb-openapi.zalopay.vn/pay/abc","zp_trans_token":"tok"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.CreateOrder(context.Background(), provider.CreateOrderReq{
		MerchantTransID: "240101_1",
		Payer:           "alice@example.com",
		Amount:          90000,
		Items:           []provider.Item{{ID: "11", Name: "Latte", Price: 45000, Quantity: 2}},
		Description:     "Payment for order #A1",
	})
	require.NoError(t, err)
	assert.Equal(t, provider.OutcomeSucceeded, resp.Outcome)
	assert.Equal(t, "https://sb-openapi.zalopay.vn/pay/abc", resp.OrderURL)
	assert.Equal(t, "tok", resp.ZPTransToken)
}

func TestCreateOrderRejectionIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"return_code":2,"return_message":"Giao dịch thất bại","sub_return_code":-68,"sub_return_message":"Mã giao dịch bị trùng"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).CreateOrder(context.Background(), provider.CreateOrderReq{
		MerchantTransID: "240101_2", Payer: "bob", Amount: 50000, Description: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, provider.OutcomeFailed, resp.Outcome)
	assert.Equal(t, -68, resp.SubReturnCode)
	assert.Equal(t, "Giao dịch thất bại: Mã giao dịch bị trùng", resp.Message())
}

func TestCreateOrderValidatesBeforeSending(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreateOrder(context.Background(), provider.CreateOrderReq{
		MerchantTransID: "240101_3", Payer: "bob", Amount: 500, Description: "x",
	})
	var pe *provider.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.ErrInvalidAmount, pe.Code)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestQueryOrderSignsWithKeySuffix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathQuery, r.URL.Path)
		b := decodeBody(t, r)
		assert.Equal(t, crypto.Sign(testKey1, "2553|240101_4|"+testKey1), b["mac"])
		_, _ = w.Write([]byte(`{"return_code":1,"return_message":"ok","is_processing":false,"amount":90000,"zp_trans_id":240101000000777,"server_time":1704067200000}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).QueryOrder(context.Background(), "240101_4")
	require.NoError(t, err)
	assert.Equal(t, provider.OutcomeSucceeded, resp.Outcome)
	assert.Equal(t, "240101000000777", resp.ProviderTransID)
	assert.Equal(t, int64(90000), resp.Amount)
}

func TestRefundSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathRefund, r.URL.Path)
		b := decodeBody(t, r)
		want := crypto.Sign(testKey1, crypto.Join(b["app_id"], b["zp_trans_id"], b["amount"], b["description"], b["timestamp"]))
		assert.Equal(t, want, b["mac"])
		assert.Equal(t, "240101_2553_99", b["m_refund_id"])
		_, _ = w.Write([]byte(`{"return_code":3,"return_message":"processing","refund_id":123456}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Refund(context.Background(), provider.RefundReq{
		RefundID: "240101_2553_99", ProviderTransID: "240101000000777", Amount: 60000, Description: "Refund for order #A1",
	})
	require.NoError(t, err)
	assert.Equal(t, provider.OutcomeProcessing, resp.Outcome)
	assert.Equal(t, "123456", resp.ProviderRefundID)
}

func TestQueryRefundRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := decodeBody(t, r)
		assert.Equal(t, crypto.Sign(testKey1, crypto.Join(b["app_id"], b["m_refund_id"], b["timestamp"])), b["mac"])
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"return_code":1,"return_message":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.cfg.QueryRetries = 2
	resp, err := c.QueryRefund(context.Background(), "240101_2553_99")
	require.NoError(t, err)
	assert.Equal(t, provider.OutcomeSucceeded, resp.Outcome)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestMalformedResponseIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.cfg.QueryRetries = 3
	_, err := c.QueryRefund(context.Background(), "r1")
	var pe *provider.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.ErrMalformedResponse, pe.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTimeoutIsReportedAsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"return_code":1}`))
	}))
	defer srv.Close()

	c := New(Config{AppID: 2553, Key1: testKey1, BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Refund(context.Background(), provider.RefundReq{RefundID: "r", ProviderTransID: "1", Amount: 1000, Description: "d"})
	require.Error(t, err)
	assert.True(t, provider.IsTimeout(err))
}

func TestOutcomeFor(t *testing.T) {
	assert.Equal(t, provider.OutcomeSucceeded, OutcomeFor(1))
	assert.Equal(t, provider.OutcomeFailed, OutcomeFor(2))
	assert.Equal(t, provider.OutcomeProcessing, OutcomeFor(3))
	assert.Equal(t, provider.OutcomeProcessing, OutcomeFor(-54))
}

func TestEncodeItemsEmpty(t *testing.T) {
	s, err := EncodeItems(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)
}

func TestCallbacksVerifyAndDecode(t *testing.T) {
	data := `{"app_id":2553,"app_trans_id":"240101_5","app_time":1704067200000,"app_user":"alice","amount":90000,"embed_data":"{}","item":"[]","zp_trans_id":240101000000888,"server_time":1704067260000,"channel":38}`
	cb := provider.Callback{Data: data, MAC: crypto.Sign(testKey2, data)}
	callbacks := NewCallbacks(2553, testKey2)

	require.True(t, callbacks.Verify(cb))
	assert.False(t, NewCallbacks(2553, testKey1).Verify(cb), "outbound key must not verify callbacks")
	assert.False(t, callbacks.Verify(provider.Callback{Data: data}))

	d, err := callbacks.Decode(cb.Data)
	require.NoError(t, err)
	assert.Equal(t, "240101_5", d.MerchantTransID)
	assert.Equal(t, "240101000000888", d.ProviderTransID)
	assert.Equal(t, 38, d.Channel)

	_, err = callbacks.Decode(`{"app_trans_id":"x"}`)
	assert.Error(t, err)
}

func TestCallbacksDecodeRejectsOtherApp(t *testing.T) {
	data := `{"app_id":9999,"app_trans_id":"240101_5","amount":90000,"zp_trans_id":240101000000888}`
	cb := provider.Callback{Data: data, MAC: crypto.Sign(testKey2, data)}
	callbacks := NewCallbacks(2553, testKey2)

	require.True(t, callbacks.Verify(cb))
	_, err := callbacks.Decode(cb.Data)
	var perr *provider.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provider.ErrMalformedResponse, perr.Code)
}

package zalopay

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"paygate/internal/crypto"
	"paygate/internal/provider"
)

// Callbacks authenticates and decodes the provider's payment callbacks with KEY2.
// Only callbacks for the configured app are accepted.
type Callbacks struct {
	appID int64
	key2  string
}

func NewCallbacks(appID int64, key2 string) *Callbacks {
	return &Callbacks{appID: appID, key2: key2}
}

// Verify checks the mac over the raw data string exactly as it arrived.
func (c *Callbacks) Verify(cb provider.Callback) bool {
	if cb.Data == "" || cb.MAC == "" {
		return false
	}
	return crypto.Verify(c.key2, cb.Data, cb.MAC)
}

type callbackData struct {
	AppID        int64  `json:"app_id"`
	AppTransID   string `json:"app_trans_id"`
	AppUser      string `json:"app_user"`
	Amount       int64  `json:"amount"`
	ZPTransID    int64  `json:"zp_trans_id"`
	ServerTime   int64  `json:"server_time"`
	Channel      int    `json:"channel"`
	AppTime      int64  `json:"app_time"`
	EmbedData    string `json:"embed_data"`
	Item         string `json:"item"`
	MerchantUser string `json:"merchant_user_id"`
}

// Decode parses a verified data string. Call it only after Verify succeeded.
func (c *Callbacks) Decode(data string) (*provider.CallbackData, error) {
	var d callbackData
	dec := json.NewDecoder(strings.NewReader(data))
	if err := dec.Decode(&d); err != nil {
		return nil, &provider.ProviderError{
			Code:        provider.ErrMalformedResponse,
			Message:     "malformed callback data",
			ProviderErr: err.Error(),
		}
	}
	if d.AppID != c.appID {
		return nil, &provider.ProviderError{
			Code:    provider.ErrMalformedResponse,
			Message: fmt.Sprintf("callback for app %d, expected %d", d.AppID, c.appID),
		}
	}
	if d.AppTransID == "" || d.ZPTransID <= 0 {
		return nil, &provider.ProviderError{
			Code:    provider.ErrMalformedResponse,
			Message: fmt.Sprintf("callback missing app_trans_id or zp_trans_id (app_trans_id=%q)", d.AppTransID),
		}
	}

	out := &provider.CallbackData{
		AppID:           d.AppID,
		MerchantTransID: d.AppTransID,
		ProviderTransID: strconv.FormatInt(d.ZPTransID, 10),
		Amount:          d.Amount,
		Payer:           d.AppUser,
		Channel:         d.Channel,
	}
	if d.ServerTime > 0 {
		out.ServerTime = time.UnixMilli(d.ServerTime)
	}
	return out, nil
}

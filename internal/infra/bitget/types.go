package bitget

import (
	"encoding/json"
	"math"
	"time"
)

const (
	BaseURLMainnet    = "https://api.bitget.com"
	PrivateWSURL      = "wss://ws.bitget.com/v2/ws/private"
	PublicWSURL       = "wss://ws.bitget.com/v2/ws/public"
	successCode       = "00000"
	maxRetries        = 10
	baseDelay         = 1 * time.Second
	maxDelay          = 60 * time.Second
	pingInterval      = 25 * time.Second
	readTimeout       = 35 * time.Second
	fillsPageLimit    = 100
	DefaultUserAgent  = "Mozilla/5.0"
	loginVerifyPath   = "/user/verify"
	fillChannel       = "fill"
	ordersChannel     = "orders"
	tradeChannel      = "trade"
	fillInstIDDefault = "default"
)

// subscribeRequest is a websocket op frame (login, subscribe).
type subscribeRequest struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

type subscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstId   string `json:"instId"`
}

type loginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

// wsEvent covers both op acknowledgements and channel pushes.
type wsEvent struct {
	Event  string          `json:"event"` // login, subscribe, error
	Code   json.Number     `json:"code"`
	Msg    string          `json:"msg"`
	Action string          `json:"action"` // snapshot, update
	Arg    subscribeArg    `json:"arg"`
	Data   json.RawMessage `json:"data"`
}

// fillData is one of our fills, as pushed on the private fill channel and returned by the
// fills history endpoint.
type fillData struct {
	OrderID    string `json:"orderId"`
	TradeID    string `json:"tradeId"`
	Symbol     string `json:"symbol"`
	OrderType  string `json:"orderType"` // limit, market
	Side       string `json:"side"`      // buy, sell
	PriceAvg   string `json:"priceAvg"`
	Size       string `json:"size"`
	TradeScope string `json:"tradeScope"` // maker, taker
	CTime      string `json:"cTime"`      // ms
}

// orderData is a status push of the private orders channel.
type orderData struct {
	OrderID       string `json:"orderId"`
	InstID        string `json:"instId"`
	Force         string `json:"force"`         // gtc, ioc, fok, post_only
	Status        string `json:"status"`        // live, partially_filled, filled, cancelled
	AccBaseVolume string `json:"accBaseVolume"` // cumulative filled size
	UTime         string `json:"uTime"`         // ms
}

// tradeData is one public market trade.
type tradeData struct {
	TS      string `json:"ts"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	TradeID string `json:"tradeId"`
}

// apiResponse is the REST envelope.
type apiResponse struct {
	Code        string          `json:"code"`
	Msg         string          `json:"msg"`
	RequestTime int64           `json:"requestTime"`
	Data        json.RawMessage `json:"data"`
}

type placeOrderRequest struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`      // buy, sell
	OrderType     string `json:"orderType"` // limit, market
	Force         string `json:"force"`     // gtc, ioc, fok
	Price         string `json:"price,omitempty"`
	Size          string `json:"size"`
	ClientOrderId string `json:"clientOid"`
}

type placeOrderData struct {
	OrderID       string `json:"orderId"`
	ClientOrderId string `json:"clientOid"`
}

type cancelOrderRequest struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"orderId"`
}

func calculateBackoff(retryCount int) time.Duration {
	// Cap retry count to prevent overflow (2^6 = 64 seconds > max 60s)
	if retryCount > 6 {
		return maxDelay
	}
	delay := baseDelay * time.Duration(math.Pow(2, float64(retryCount)))
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

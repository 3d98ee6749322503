package bitget

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"cointoss/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOK(w http.ResponseWriter, data any) {
	raw, _ := json.Marshal(data)
	json.NewEncoder(w).Encode(apiResponse{Code: successCode, Msg: "success", Data: raw})
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "BTCUSDT", fixedSigner(), nil)
}

func TestClient_Request(t *testing.T) {
	var got placeOrderRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/spot/trade/place-order", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("ACCESS-KEY"))
		assert.NotEmpty(t, r.Header.Get("ACCESS-SIGN"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		writeOK(w, placeOrderData{OrderID: "1001", ClientOrderId: got.ClientOrderId})
	})

	order := domain.MakerOrder(domain.Sell, decimal.RequireFromString("0.5"), decimal.RequireFromString("65000.1"))
	id, err := c.Request(context.Background(), order.View())

	require.NoError(t, err)
	assert.Equal(t, "1001", id)
	assert.Equal(t, "sell", got.Side)
	assert.Equal(t, "limit", got.OrderType)
	assert.Equal(t, "gtc", got.Force)
	assert.Equal(t, "65000.1", got.Price)
	assert.Equal(t, "0.5", got.Size)
}

func TestClient_RequestMarket(t *testing.T) {
	var got placeOrderRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		writeOK(w, placeOrderData{OrderID: "1002"})
	})

	_, err := c.Request(context.Background(), domain.TakerOrder(domain.Buy, decimal.NewFromInt(1)).View())
	require.NoError(t, err)
	assert.Equal(t, "market", got.OrderType)
	assert.Equal(t, "ioc", got.Force)
	assert.Empty(t, got.Price)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retriable bool
	}{
		{"throttled", http.StatusTooManyRequests, `{"code":"429","msg":"too many requests"}`, true},
		{"server error", http.StatusBadGateway, `bad gateway`, true},
		{"business error", http.StatusBadRequest, `{"code":"43012","msg":"Insufficient balance"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := c.Request(context.Background(), domain.TakerOrder(domain.Buy, decimal.NewFromInt(1)).View())
			require.Error(t, err)
			assert.Equal(t, tt.retriable, domain.IsRetriable(err))
		})
	}
}

func TestClient_Cancel(t *testing.T) {
	var got cancelOrderRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/spot/trade/cancel-order", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&got)
		writeOK(w, map[string]string{"orderId": got.OrderID})
	})

	require.NoError(t, c.Cancel(context.Background(), domain.OrderView{ID: "1001"}))
	assert.Equal(t, "1001", got.OrderID)
	assert.Equal(t, "BTCUSDT", got.Symbol)

	err := c.Cancel(context.Background(), domain.OrderView{})
	assert.ErrorIs(t, err, domain.ErrUnknownOrder)
}

// fillHistory serves trade ids 1..n newest first, paged backwards through idLessThan.
func fillHistory(t *testing.T, n int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/spot/trade/fills", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))

		upper := n + 1
		if v := r.URL.Query().Get("idLessThan"); v != "" {
			upper, _ = strconv.ParseInt(v, 10, 64)
		}
		var data []fillData
		for id := upper - 1; id >= 1 && len(data) < fillsPageLimit; id-- {
			scope := "taker"
			if id%2 == 0 {
				scope = "maker"
			}
			data = append(data, fillData{
				OrderID:    fmt.Sprintf("O-%d", id),
				TradeID:    strconv.FormatInt(id, 10),
				Symbol:     "BTCUSDT",
				Side:       "buy",
				PriceAvg:   "100",
				Size:       "1",
				TradeScope: scope,
				CTime:      strconv.FormatInt(1700000000000+id, 10),
			})
		}
		writeOK(w, data)
	}
}

func TestClient_FetchFills(t *testing.T) {
	c := newTestClient(t, fillHistory(t, 250))

	page, err := c.FetchFills(context.Background(), domain.PageRequest{AfterID: 10, Limit: 5})
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, int64(15), page[0].ID)
	assert.Equal(t, int64(11), page[4].ID)

	// Maker fills carry our order id on the maker side.
	for _, e := range page {
		if e.ID%2 == 0 {
			assert.Equal(t, fmt.Sprintf("O-%d", e.ID), e.MakerID)
		} else {
			assert.Equal(t, fmt.Sprintf("O-%d", e.ID), e.TakerID)
		}
	}

	page, err = c.FetchFills(context.Background(), domain.PageRequest{AfterID: 10, Offset: 1, Limit: 5})
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, int64(20), page[0].ID)

	page, err = c.FetchFills(context.Background(), domain.PageRequest{AfterID: 250, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestToExecution(t *testing.T) {
	e, err := toExecution(fillData{
		OrderID: "42", TradeID: "7", Side: "sell", PriceAvg: "1.5", Size: "2", TradeScope: "maker", CTime: "1700000000000",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), e.ID)
	assert.Equal(t, domain.Sell, e.Direction)
	assert.Equal(t, "42", e.MakerID)
	assert.Empty(t, e.TakerID)
	assert.Equal(t, int64(1700000000000), e.Time.UnixMilli())

	_, err = toExecution(fillData{TradeID: "x"})
	assert.Error(t, err)
}

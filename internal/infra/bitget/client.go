package bitget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"cointoss/internal/domain"

	"github.com/shopspring/decimal"
)

// Client is the Bitget V2 spot REST client. It places and cancels our orders and pages
// through our fill history for backfill.
type Client struct {
	baseURL    string
	symbol     string
	httpClient *http.Client
	signer     *Signer
	clientSeq  atomic.Uint64
	logger     *slog.Logger
}

var (
	_ domain.OrderGateway = (*Client)(nil)
	_ domain.FillFetcher  = (*Client)(nil)
)

// NewClient creates a new Bitget API client.
func NewClient(baseURL, symbol string, signer *Signer, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = BaseURLMainnet
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		symbol:  symbol,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer: signer,
		logger: logger.With("module", "bitget_client"),
	}
}

// Request implements domain.OrderGateway.
func (c *Client) Request(ctx context.Context, order domain.OrderView) (string, error) {
	reqBody := placeOrderRequest{
		Symbol:        c.symbol,
		Side:          side(order.Direction),
		OrderType:     "limit",
		Force:         force(order.QuantityCondition),
		Price:         order.Price.String(),
		Size:          order.Size.String(),
		ClientOrderId: fmt.Sprintf("ct-%d-%d", time.Now().UnixMilli(), c.clientSeq.Add(1)),
	}
	if order.Type == domain.OrderTypeTaker {
		reqBody.OrderType = "market"
		reqBody.Price = ""
	}

	var data placeOrderData
	if err := c.call(ctx, http.MethodPost, "/api/v2/spot/trade/place-order", nil, reqBody, &data); err != nil {
		return "", fmt.Errorf("bitget place order failed: %w", err)
	}
	if data.OrderID == "" {
		return "", domain.NewFatalNetworkError("place order", errors.New("empty order id"))
	}

	c.logger.Info("Order Placed Successfully", "oid", data.OrderID, "clientOid", data.ClientOrderId)
	return data.OrderID, nil
}

// Cancel implements domain.OrderGateway.
func (c *Client) Cancel(ctx context.Context, order domain.OrderView) error {
	if order.ID == "" {
		return fmt.Errorf("cancel: %w", domain.ErrUnknownOrder)
	}
	reqBody := cancelOrderRequest{Symbol: c.symbol, OrderID: order.ID}
	if err := c.call(ctx, http.MethodPost, "/api/v2/spot/trade/cancel-order", nil, reqBody, nil); err != nil {
		return fmt.Errorf("bitget cancel order failed: %w", err)
	}
	return nil
}

// FetchFills implements domain.FillFetcher. The venue only pages backwards (idLessThan), so
// the client walks back from the newest fill to AfterID and cuts the requested page out of
// the ascending run.
func (c *Client) FetchFills(ctx context.Context, page domain.PageRequest) ([]domain.Execution, error) {
	var collected []domain.Execution // newest first
	cursor := ""
	for {
		batch, err := c.fillsPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		done := len(batch) < fillsPageLimit
		for _, e := range batch {
			if e.ID <= page.AfterID {
				done = true
				break
			}
			collected = append(collected, e)
		}
		if done {
			break
		}
		cursor = strconv.FormatInt(batch[len(batch)-1].ID, 10)
	}

	slices.Reverse(collected)
	var prev domain.Execution
	for i := range collected {
		collected[i] = domain.Chain(prev, collected[i])
		prev = collected[i]
	}

	start := page.Offset * page.Limit
	if start >= len(collected) {
		return nil, nil
	}
	out := slices.Clone(collected[start:min(start+page.Limit, len(collected))])
	slices.Reverse(out)
	return out, nil
}

// fillsPage returns one page of our fills, newest first.
func (c *Client) fillsPage(ctx context.Context, idLessThan string) ([]domain.Execution, error) {
	query := url.Values{}
	query.Set("symbol", c.symbol)
	query.Set("limit", strconv.Itoa(fillsPageLimit))
	if idLessThan != "" {
		query.Set("idLessThan", idLessThan)
	}

	var data []fillData
	if err := c.call(ctx, http.MethodGet, "/api/v2/spot/trade/fills", query, nil, &data); err != nil {
		return nil, fmt.Errorf("bitget fills failed: %w", err)
	}

	out := make([]domain.Execution, 0, len(data))
	for _, f := range data {
		e, err := toExecution(f)
		if err != nil {
			c.logger.Warn("Skipping malformed fill", slog.String("tradeId", f.TradeID), slog.Any("error", err))
			continue
		}
		out = append(out, e)
	}
	// Newest first, whatever order the venue used.
	slices.SortFunc(out, func(a, b domain.Execution) int {
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		default:
			return 0
		}
	})
	return out, nil
}

// call handles auth headers, serialization and error classification. Throttling, server
// errors and transport failures are retriable; business errors are not.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(jsonBytes)
		bodyStr = string(jsonBytes)
	}

	queryStr := query.Encode()
	reqURL := c.baseURL + path
	if queryStr != "" {
		reqURL += "?" + queryStr
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return err
	}
	for k, v := range c.signer.GenerateHeaders(method, path, queryStr, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError(method+" "+path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewNetworkError("read "+path, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return domain.NewNetworkError(method+" "+path,
			fmt.Errorf("bitget api error: status=%d body=%s", resp.StatusCode, string(bodyBytes)))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return domain.NewNetworkError("decode "+path,
			fmt.Errorf("failed to parse response (status=%d): %w", resp.StatusCode, err))
	}
	if apiResp.Code != successCode {
		return domain.NewFatalNetworkError(method+" "+path,
			fmt.Errorf("bitget business error: code=%s msg=%s", apiResp.Code, apiResp.Msg))
	}
	if out == nil || len(apiResp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(apiResp.Data, out); err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}
	return nil
}

// toExecution converts one of our fills. The order id goes on the side we traded.
func toExecution(f fillData) (domain.Execution, error) {
	id, err := strconv.ParseInt(f.TradeID, 10, 64)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("trade id %q: %w", f.TradeID, err)
	}
	dir, ok := domain.ParseDirection(f.Side)
	if !ok {
		return domain.Execution{}, fmt.Errorf("side %q", f.Side)
	}
	price, err := decimal.NewFromString(f.PriceAvg)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("price %q: %w", f.PriceAvg, err)
	}
	size, err := decimal.NewFromString(f.Size)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("size %q: %w", f.Size, err)
	}
	ms, err := strconv.ParseInt(f.CTime, 10, 64)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("cTime %q: %w", f.CTime, err)
	}

	e := domain.Execution{
		ID:             id,
		Direction:      dir,
		Price:          price,
		Size:           size,
		CumulativeSize: size,
		Time:           time.UnixMilli(ms),
	}
	if f.TradeScope == "maker" {
		e.MakerID = f.OrderID
	} else {
		e.TakerID = f.OrderID
	}
	return e, nil
}

func side(d domain.Direction) string {
	if d == domain.Sell {
		return "sell"
	}
	return "buy"
}

func force(q domain.QuantityCondition) string {
	switch q {
	case domain.ImmediateOrCancel:
		return "ioc"
	case domain.FillOrKill:
		return "fok"
	default:
		return "gtc"
	}
}

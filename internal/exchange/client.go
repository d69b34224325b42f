// Package exchange implements the Kraken Spot REST and WebSocket clients.
//
// The REST client (Client) talks to Kraken's Spot API:
//   - CurrentPrice(s):  GET  /0/public/Ticker           — last-trade price, single or batched
//   - Balance:          POST /0/private/Balance         — read-only credential
//   - OpenOrders:        POST /0/private/OpenOrders
//   - ClosedOrders:      POST /0/private/ClosedOrders
//   - QueryOrders:       POST /0/private/QueryOrders
//   - AddTrailingStop:   POST /0/private/AddOrder        — ordertype=trailing-stop
//   - CancelOrder:       POST /0/private/CancelOrder
//
// Every private request is rate-limited via a token bucket, signed with
// Kraken's nonce+HMAC-SHA512 scheme (auth.go), and classified into the
// typed failure taxonomy in errors.go on any non-success response.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo/pkg/types"
)

const defaultTimeout = 30 * time.Second

// AccountAuth holds the read-only and read-write signers for one logical
// account. Either may be nil if that scope's credentials were never
// resolved.
type AccountAuth struct {
	ReadOnly  *Auth
	ReadWrite *Auth
}

// Client is the Kraken Spot REST API client. It wraps a resty HTTP client
// with rate limiting and per-account credential lookup.
type Client struct {
	http    *resty.Client
	baseURL string
	// accounts maps the Rule.account name to its resolved credentials.
	accounts map[string]AccountAuth
	rl       *RateLimiter
	dryRun   bool
	logger   *slog.Logger
}

// NewClient creates a REST client with rate limiting, a 30s per-call
// deadline, and automatic retry on 5xx responses.
func NewClient(baseURL string, accounts map[string]AccountAuth, dryRun bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/x-www-form-urlencoded")

	return &Client{
		http:     httpClient,
		baseURL:  baseURL,
		accounts: accounts,
		rl:       NewRateLimiter(),
		dryRun:   dryRun,
		logger:   logger,
	}
}

// krakenEnvelope is the {"error": [...], "result": {...}} shape every
// Kraken REST response uses.
type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (c *Client) readOnlyAuth(account string) (*Auth, error) {
	acc, ok := c.accounts[account]
	if !ok || acc.ReadOnly == nil {
		return nil, fmt.Errorf("no read-only credential configured for account %q", account)
	}
	return acc.ReadOnly, nil
}

func (c *Client) readWriteAuth(account string) (*Auth, error) {
	acc, ok := c.accounts[account]
	if !ok || acc.ReadWrite == nil {
		return nil, fmt.Errorf("no read-write credential configured for account %q", account)
	}
	return acc.ReadWrite, nil
}

// HasReadWrite reports whether a read-write credential is configured for
// account. In dry-run mode no order is ever submitted, so the check
// passes and the remaining decision steps still run without read-write
// credentials.
func (c *Client) HasReadWrite(account string) bool {
	if c.dryRun {
		return true
	}
	acc, ok := c.accounts[account]
	return ok && acc.ReadWrite != nil
}

// doPublic issues an unauthenticated GET to a public endpoint.
func (c *Client) doPublic(ctx context.Context, endpoint string, query map[string]string) (json.RawMessage, error) {
	if err := c.rl.Ticker.Wait(ctx); err != nil {
		return nil, err
	}

	req := c.http.R().SetContext(ctx)
	for k, v := range query {
		req.SetQueryParam(k, v)
	}

	resp, err := req.Get(endpoint)
	if err != nil {
		return nil, classifyTransportError(endpoint, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, classifyStatusError(endpoint, resp.StatusCode(), resp.String())
	}

	var env krakenEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, newError(endpoint, types.ErrOther, resp.StatusCode(), "malformed response: "+err.Error())
	}
	if len(env.Error) > 0 {
		return nil, newError(endpoint, types.ErrOther, resp.StatusCode(), strings.Join(env.Error, "; "))
	}
	return env.Result, nil
}

// doPrivate signs and issues a POST to a private endpoint using auth.
func (c *Client) doPrivate(ctx context.Context, endpoint string, auth *Auth, form url.Values) (json.RawMessage, error) {
	if err := c.rl.Private.Wait(ctx); err != nil {
		return nil, err
	}

	nonce := fmt.Sprintf("%d", auth.NextNonce())
	form.Set("nonce", nonce)
	body := form.Encode()

	headers, err := auth.Headers(endpoint, nonce, body)
	if err != nil {
		return nil, newError(endpoint, types.ErrOther, 0, "sign request: "+err.Error())
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return nil, classifyTransportError(endpoint, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, classifyStatusError(endpoint, resp.StatusCode(), resp.String())
	}

	var env krakenEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, newError(endpoint, types.ErrOther, resp.StatusCode(), "malformed response: "+err.Error())
	}
	if len(env.Error) > 0 {
		return nil, newError(endpoint, types.ErrOther, resp.StatusCode(), strings.Join(env.Error, "; "))
	}
	return env.Result, nil
}

// tickerResult is the per-pair shape of GET /0/public/Ticker's result map.
// "c" is the last-trade-closed array: [price, lot volume].
type tickerResult struct {
	Close []string `json:"c"`
}

// CurrentPrice fetches the last-trade price for a single pair.
func (c *Client) CurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	prices, err := c.CurrentPrices(ctx, []string{pair})
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := prices[pair]
	if !ok {
		return decimal.Zero, newError("/0/public/Ticker", types.ErrOther, 0, "pair not present in response: "+pair)
	}
	return price, nil
}

// CurrentPrices fetches last-trade prices for many pairs in one round
// trip: the batch variant the rule engine uses once per cycle to warm
// the price cache.
func (c *Client) CurrentPrices(ctx context.Context, pairs []string) (map[string]decimal.Decimal, error) {
	if len(pairs) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	const endpoint = "/0/public/Ticker"
	raw, err := c.doPublic(ctx, endpoint, map[string]string{"pair": strings.Join(pairs, ",")})
	if err != nil {
		return nil, err
	}

	var result map[string]tickerResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, newError(endpoint, types.ErrOther, 0, "malformed ticker result: "+err.Error())
	}

	out := make(map[string]decimal.Decimal, len(result))
	for pair, t := range result {
		if len(t.Close) == 0 {
			continue
		}
		price, err := decimal.NewFromString(t.Close[0])
		if err != nil {
			continue
		}
		out[pair] = price
	}
	return out, nil
}

// Balance returns all asset balances for account, using its read-only
// credential.
func (c *Client) Balance(ctx context.Context, account string) (types.Balances, error) {
	auth, err := c.readOnlyAuth(account)
	if err != nil {
		return nil, err
	}

	const endpoint = "/0/private/Balance"
	raw, err := c.doPrivate(ctx, endpoint, auth, url.Values{})
	if err != nil {
		return nil, err
	}

	var result map[string]string
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, newError(endpoint, types.ErrOther, 0, "malformed balance result: "+err.Error())
	}

	balances := make(types.Balances, len(result))
	for asset, qty := range result {
		d, err := decimal.NewFromString(qty)
		if err != nil {
			continue
		}
		balances[asset] = d
	}
	return balances, nil
}

// orderInfo is the per-txid shape returned by OpenOrders/ClosedOrders/QueryOrders.
type orderInfo struct {
	Status    string `json:"status"`
	Price     string `json:"price"`     // limit/trigger price
	PriceAvg  string `json:"price2"`    // avg fill price in some responses
	Vol       string `json:"vol"`
	VolExec   string `json:"vol_exec"`
}

func (o orderInfo) toSummary(id string) types.OrderSummary {
	status := types.OrderStatus(o.Status)
	switch o.Status {
	case "open", "pending":
		status = types.OrderOpen
	case "closed":
		status = types.OrderClosed
	case "canceled":
		status = types.OrderCanceled
	case "expired":
		status = types.OrderExpired
	}

	fillPrice := decimal.Zero
	if o.PriceAvg != "" {
		if d, err := decimal.NewFromString(o.PriceAvg); err == nil {
			fillPrice = d
		}
	} else if o.Price != "" {
		if d, err := decimal.NewFromString(o.Price); err == nil {
			fillPrice = d
		}
	}

	return types.OrderSummary{OrderID: id, Status: status, FillPrice: fillPrice}
}

// OpenOrders returns all currently open orders for account.
func (c *Client) OpenOrders(ctx context.Context, account string) (map[string]types.OrderSummary, error) {
	auth, err := c.readOnlyAuth(account)
	if err != nil {
		return nil, err
	}
	const endpoint = "/0/private/OpenOrders"
	raw, err := c.doPrivate(ctx, endpoint, auth, url.Values{})
	if err != nil {
		return nil, err
	}
	var result struct {
		Open map[string]orderInfo `json:"open"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, newError(endpoint, types.ErrOther, 0, "malformed open orders result: "+err.Error())
	}
	out := make(map[string]types.OrderSummary, len(result.Open))
	for id, info := range result.Open {
		out[id] = info.toSummary(id)
	}
	return out, nil
}

// ClosedOrders returns orders closed since the given time for account.
func (c *Client) ClosedOrders(ctx context.Context, account string, since time.Time) (map[string]types.OrderSummary, error) {
	auth, err := c.readOnlyAuth(account)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	if !since.IsZero() {
		form.Set("start", fmt.Sprintf("%d", since.Unix()))
	}
	const endpoint = "/0/private/ClosedOrders"
	raw, err := c.doPrivate(ctx, endpoint, auth, form)
	if err != nil {
		return nil, err
	}
	var result struct {
		Closed map[string]orderInfo `json:"closed"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, newError(endpoint, types.ErrOther, 0, "malformed closed orders result: "+err.Error())
	}
	out := make(map[string]types.OrderSummary, len(result.Closed))
	for id, info := range result.Closed {
		out[id] = info.toSummary(id)
	}
	return out, nil
}

// QueryOrders fetches specific orders by id in a single batched call.
// Ids the exchange does not recognize come back with status unknown
// rather than being dropped from the result.
func (c *Client) QueryOrders(ctx context.Context, account string, ids []string) (map[string]types.OrderSummary, error) {
	if len(ids) == 0 {
		return map[string]types.OrderSummary{}, nil
	}
	auth, err := c.readOnlyAuth(account)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("txid", strings.Join(ids, ","))
	const endpoint = "/0/private/QueryOrders"
	raw, err := c.doPrivate(ctx, endpoint, auth, form)
	if err != nil {
		return nil, err
	}
	var result map[string]orderInfo
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, newError(endpoint, types.ErrOther, 0, "malformed query orders result: "+err.Error())
	}
	out := make(map[string]types.OrderSummary, len(ids))
	for _, id := range ids {
		if info, ok := result[id]; ok {
			out[id] = info.toSummary(id)
		} else {
			out[id] = types.OrderSummary{OrderID: id, Status: types.OrderUnknown}
		}
	}
	return out, nil
}

// AddTrailingStop submits a trailing-stop order with the exact parameter
// formatting Kraken expects: decimal-string volume, "+X.X%" offset,
// lower-case type, ordertype "trailing-stop". If the response error text
// contains "index unavailable" (case-insensitive) and params.Trigger was
// "index", it retries exactly once with trigger=last.
func (c *Client) AddTrailingStop(ctx context.Context, account string, params types.TrailingStopParams) (string, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit trailing stop",
			"pair", params.Pair, "direction", params.Direction, "volume", params.Volume, "offset", params.OffsetPct)
		return "dry-run-" + params.Pair, nil
	}

	auth, err := c.readWriteAuth(account)
	if err != nil {
		return "", err
	}

	trigger := params.Trigger
	if trigger == "" {
		trigger = types.TriggerIndex
	}

	txid, err := c.submitTrailingStop(ctx, auth, params, trigger)
	if err != nil {
		var exErr *Error
		if trigger == types.TriggerIndex && asExchangeError(err, &exErr) && exErr.IndexUnavailable() {
			c.logger.Warn("index price unavailable, retrying with last", "pair", params.Pair)
			return c.submitTrailingStop(ctx, auth, params, types.TriggerLast)
		}
		return "", err
	}
	return txid, nil
}

func asExchangeError(err error, target **Error) bool {
	if e, ok := err.(*Error); ok {
		*target = e
		return true
	}
	return false
}

func (c *Client) submitTrailingStop(ctx context.Context, auth *Auth, params types.TrailingStopParams, trigger types.PriceTrigger) (string, error) {
	form := url.Values{}
	form.Set("pair", params.Pair)
	form.Set("type", krakenSide(params.Direction))
	form.Set("ordertype", krakenOrderType)
	form.Set("volume", FormatVolume(params.Volume))
	form.Set("price", FormatOffset(params.OffsetPct))
	form.Set("trigger", string(trigger))

	const endpoint = "/0/private/AddOrder"
	raw, err := c.doPrivate(ctx, endpoint, auth, form)
	if err != nil {
		return "", err
	}

	var result struct {
		Txid []string `json:"txid"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", newError(endpoint, types.ErrOther, 0, "malformed add order result: "+err.Error())
	}
	if len(result.Txid) == 0 {
		return "", newError(endpoint, types.ErrOther, 0, "add order response missing txid")
	}
	return result.Txid[0], nil
}

// CancelOrder cancels a single order by id.
func (c *Client) CancelOrder(ctx context.Context, account, orderID string) error {
	auth, err := c.readWriteAuth(account)
	if err != nil {
		return err
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}

	form := url.Values{}
	form.Set("txid", orderID)
	const endpoint = "/0/private/CancelOrder"
	_, err = c.doPrivate(ctx, endpoint, auth, form)
	return err
}

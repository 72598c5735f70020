// REST client for the ledger service broker API.
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"backoffice/src/metrics"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 1 * time.Second
	defaultRetryMaxBackoff = 16 * time.Second
	defaultTimeout         = 60 * time.Second

	headerRequestID = "X-Request-ID"
)

// CredentialProvider hands out a bearer token for the ledger and drops it when
// the ledger says it is no longer valid.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// -----------------------------
// WIRE TYPES
// -----------------------------
type errorBody struct {
	Code    *int   `json:"code"`
	Message string `json:"message"`
}

type optInBody struct {
	AssetID int64 `json:"assetId"`
}

type transferBody struct {
	AssetID int64       `json:"assetId"`
	Amount  json.Number `json:"amount"`
}

type feeBody struct {
	InstrumentID int64 `json:"instrumentId"`
	TakerFee     int   `json:"takerFee"`
	MakerFee     int   `json:"makerFee"`
}

type placeOrderBody struct {
	OrderType   string      `json:"orderType"`
	Side        string      `json:"side"`
	Instrument  string      `json:"instrument"`
	Quantity    json.Number `json:"quantity"`
	Price       json.Number `json:"price"`
	TimeInForce string      `json:"timeInForce"`
}

type cancelOrderBody struct {
	Instrument string `json:"instrument"`
}

// TransferResult is returned by deposit and withdraw.
type TransferResult struct {
	TransactionID string `json:"transactionId,omitempty"`
	Status        string `json:"status,omitempty"`
}

// PlaceOrderParams describes an order in ledger terms (external ids, symbol).
type PlaceOrderParams struct {
	AccountID   int64
	OrderType   string
	Side        string
	Symbol      string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	TimeInForce string
	// ClientRef is sent as the request id. Generated when empty.
	ClientRef string
}

type PlaceOrderResult struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
}

// -----------------------------
// CLIENT
// -----------------------------
type LedgerClient struct {
	baseURL string
	http    *resty.Client
	creds   CredentialProvider
	metrics *metrics.Metrics
}

// isRetryableResp decides retries for calls the ledger can safely see twice.
// A 500 carrying a business code is a final answer, not an outage.
func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code == http.StatusInternalServerError && hasBusinessCode(r.Body()) {
		return false
	}
	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

// isRetryableSubmit decides retries for calls that create orders or move funds.
// Only failures proving the ledger never processed the request are retried.
func isRetryableSubmit(r *resty.Response, err error) bool {
	if err != nil {
		var opErr *net.OpError
		return errors.As(err, &opErr) && opErr.Op == "dial"
	}

	if r == nil {
		return false
	}

	switch r.StatusCode() {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return !hasBusinessCode(r.Body())
	}
	return false
}

func hasBusinessCode(raw []byte) bool {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Code == nil {
		return false
	}
	return ParseErrorCode(*body.Code) != CodeUnknown
}

func newHTTPClient(cfg Config) *resty.Client {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = defaultRetryAttempts
	}
	wait := cfg.RetryWait
	if wait <= 0 {
		wait = defaultRetryBaseDelay
	}
	maxWait := cfg.RetryMaxWait
	if maxWait <= 0 {
		maxWait = defaultRetryMaxBackoff
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	baseURL := cfg.LedgerURL
	if baseURL == "" {
		baseURL = "http://localhost:8080/"
		logger.Warnf("No ledger URL provided, using default: %s", baseURL)
	}

	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(attempts-1).
		SetRetryWaitTime(wait).
		SetRetryMaxWaitTime(maxWait).
		SetHeader("Content-Type", "application/json")
}

func NewLedgerClient(cfg Config, creds CredentialProvider) *LedgerClient {
	httpClient := newHTTPClient(cfg)
	return &LedgerClient{
		baseURL: httpClient.BaseURL,
		http:    httpClient,
		creds:   creds,
	}
}

// WithMetrics records every ledger call on m.
func (c *LedgerClient) WithMetrics(m *metrics.Metrics) *LedgerClient {
	c.metrics = m
	return c
}

type call struct {
	op        string
	method    string
	path      string
	body      interface{}
	out       interface{}
	retry     resty.RetryConditionFunc
	requestID string
}

func (c *LedgerClient) doRequest(ctx context.Context, cl call) error {
	start := time.Now()
	err := c.execute(ctx, cl)
	c.metrics.ObserveLedgerCall(cl.op, ledgerOutcome(err), time.Since(start))
	return err
}

func (c *LedgerClient) execute(ctx context.Context, cl call) error {
	var payload []byte
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", cl.op, err)
		}
		payload = b
	}

	requestID := cl.requestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	log := logger.WithFields(map[string]interface{}{
		"connector":  "LedgerClient",
		"op":         cl.op,
		"path":       cl.path,
		"request_id": requestID,
	})

	// One extra attempt after a 401 with a fresh token.
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.creds.Token(ctx)
		if err != nil {
			return fmt.Errorf("ledger credentials: %w", err)
		}

		req := c.http.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bearer "+token).
			SetHeader(headerRequestID, requestID).
			AddRetryCondition(cl.retry)
		if payload != nil {
			req = req.SetBody(payload)
		}

		log.Debug("calling ledger")
		resp, err := req.Execute(cl.method, cl.path)
		if err != nil {
			log.WithError(err).Error("ledger call failed")
			return fmt.Errorf("%w: %s %s: %w", ErrLedgerUnavailable, cl.method, cl.path, err)
		}

		if resp.StatusCode() == http.StatusUnauthorized && attempt == 0 {
			log.Warn("ledger rejected token, refreshing")
			c.creds.Invalidate()
			continue
		}

		if err := decodeResponse(resp, cl.out); err != nil {
			log.WithError(err).Warn("ledger returned an error")
			return err
		}
		return nil
	}

	return &LedgerError{Code: CodeUnknown, HTTPStatus: http.StatusUnauthorized, Message: "unauthorized after token refresh"}
}

func decodeResponse(resp *resty.Response, out interface{}) error {
	status := resp.StatusCode()
	raw := resp.Body()

	if status >= 200 && status < 300 {
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("decode ledger response: %w", err)
			}
		}
		return nil
	}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Code != nil {
		return &LedgerError{
			Code:       ParseErrorCode(*body.Code),
			RawCode:    *body.Code,
			Message:    body.Message,
			HTTPStatus: status,
		}
	}

	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return fmt.Errorf("%w: HTTP %d: %s", ErrLedgerUnavailable, status, truncate(raw, 256))
	}

	return &LedgerError{Code: CodeUnknown, Message: truncate(raw, 256), HTTPStatus: status}
}

func truncate(raw []byte, n int) string {
	if len(raw) > n {
		return string(raw[:n]) + "..."
	}
	return string(raw)
}

func ledgerOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	if le, ok := AsLedgerError(err); ok {
		return le.Code.String()
	}
	if errors.Is(err, ErrLedgerUnavailable) {
		return "unavailable"
	}
	return "error"
}

func accountPath(accountID int64, suffix string) string {
	return "broker/accounts/" + strconv.FormatInt(accountID, 10) + "/" + suffix
}

// -----------------------------
// ACCOUNT OPERATIONS
// -----------------------------

// OptIn provisions the account to hold assetID.
func (c *LedgerClient) OptIn(ctx context.Context, accountID, assetID int64) error {
	return c.doRequest(ctx, call{
		op:     "opt_in",
		method: http.MethodPost,
		path:   accountPath(accountID, "opt-in"),
		body:   optInBody{AssetID: assetID},
		retry:  isRetryableResp,
	})
}

// Deposit sends amount of assetID to the account (ledger "deposit").
func (c *LedgerClient) Deposit(ctx context.Context, accountID, assetID int64, amount decimal.Decimal) (*TransferResult, error) {
	var out TransferResult
	err := c.doRequest(ctx, call{
		op:     "deposit",
		method: http.MethodPost,
		path:   accountPath(accountID, "deposit"),
		body:   transferBody{AssetID: assetID, Amount: json.Number(amount.String())},
		out:    &out,
		retry:  isRetryableSubmit,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Withdraw locks amount of assetID on the ledger side (ledger "withdraw").
func (c *LedgerClient) Withdraw(ctx context.Context, accountID, assetID int64, amount decimal.Decimal) (*TransferResult, error) {
	var out TransferResult
	err := c.doRequest(ctx, call{
		op:     "withdraw",
		method: http.MethodPost,
		path:   accountPath(accountID, "withdraw"),
		body:   transferBody{AssetID: assetID, Amount: json.Number(amount.String())},
		out:    &out,
		retry:  isRetryableSubmit,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetTradingFees sets the account's fee schedule on one broker instrument.
func (c *LedgerClient) SetTradingFees(ctx context.Context, accountID, instrumentID int64, takerFee, makerFee int) error {
	return c.doRequest(ctx, call{
		op:     "set_fees",
		method: http.MethodPost,
		path:   accountPath(accountID, "fees"),
		body:   feeBody{InstrumentID: instrumentID, TakerFee: takerFee, MakerFee: makerFee},
		retry:  isRetryableResp,
	})
}

// -----------------------------
// ORDER OPERATIONS
// -----------------------------

func (c *LedgerClient) PlaceOrder(ctx context.Context, p PlaceOrderParams) (*PlaceOrderResult, error) {
	var out PlaceOrderResult
	err := c.doRequest(ctx, call{
		op:     "place_order",
		method: http.MethodPost,
		path:   accountPath(p.AccountID, "orders"),
		body: placeOrderBody{
			OrderType:   p.OrderType,
			Side:        p.Side,
			Instrument:  p.Symbol,
			Quantity:    json.Number(p.Quantity.String()),
			Price:       json.Number(p.Price.String()),
			TimeInForce: p.TimeInForce,
		},
		out:       &out,
		retry:     isRetryableSubmit,
		requestID: p.ClientRef,
	})
	if err != nil {
		return nil, err
	}
	if out.OrderID == 0 {
		// accepted or not, the order cannot be tracked
		return nil, fmt.Errorf("%w: place order response without orderId", ErrLedgerUnavailable)
	}
	return &out, nil
}

func (c *LedgerClient) CancelOrder(ctx context.Context, accountID, orderID int64, symbol string) error {
	return c.doRequest(ctx, call{
		op:     "cancel_order",
		method: http.MethodDelete,
		path:   accountPath(accountID, "orders/"+strconv.FormatInt(orderID, 10)),
		body:   cancelOrderBody{Instrument: symbol},
		retry:  isRetryableResp,
	})
}
